package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/journal-sync/internal/api"
)

// statementDateLayout is the wire format for journal entry dates.
const statementDateLayout = "2006-01-02"

// reminderTimeLayout is the wire format for profile reminder times.
const reminderTimeLayout = "15:04"

// maxStatementBytes bounds a single statement's text after normalization.
const maxStatementBytes = 4096

// Payload is the closed set of mutation payloads. Each variant maps to
// exactly one MutationType; the unexported method keeps the set closed to
// this package so the executor's type switch stays total.
type Payload interface {
	MutationType() MutationType
	Validate() error
	payload()
}

// AddStatementPayload appends a statement to the entry for Date.
type AddStatementPayload struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

// EditStatementPayload replaces the statement at Index within Date's entry.
type EditStatementPayload struct {
	Date  string `json:"date"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// DeleteStatementPayload removes the statement at Index within Date's entry.
type DeleteStatementPayload struct {
	Date  string `json:"date"`
	Index int    `json:"index"`
}

// Profile is the wire shape of a profile patch; nil fields are left
// unchanged on the server.
type Profile = api.Profile

// UpdateProfilePayload patches the user's profile.
type UpdateProfilePayload struct {
	Profile Profile `json:"profile"`
}

func (AddStatementPayload) MutationType() MutationType    { return MutationAddStatement }
func (EditStatementPayload) MutationType() MutationType   { return MutationEditStatement }
func (DeleteStatementPayload) MutationType() MutationType { return MutationDeleteStatement }
func (UpdateProfilePayload) MutationType() MutationType   { return MutationUpdateProfile }

func (AddStatementPayload) payload()    {}
func (EditStatementPayload) payload()   {}
func (DeleteStatementPayload) payload() {}
func (UpdateProfilePayload) payload()   {}

// Validate checks required fields.
func (p AddStatementPayload) Validate() error {
	return errors.Join(validateDate(p.Date), validateText(p.Text))
}

// Validate checks required fields.
func (p EditStatementPayload) Validate() error {
	return errors.Join(validateDate(p.Date), validateIndex(p.Index), validateText(p.Text))
}

// Validate checks required fields.
func (p DeleteStatementPayload) Validate() error {
	return errors.Join(validateDate(p.Date), validateIndex(p.Index))
}

// Validate checks that at least one field is set and that set fields are
// well-formed.
func (p UpdateProfilePayload) Validate() error {
	pr := p.Profile
	if pr.DisplayName == nil && pr.Timezone == nil && pr.ReminderTime == nil && pr.DailyGoal == nil {
		return errors.New("profile: at least one field must be set")
	}

	var errs []error

	if pr.DisplayName != nil && strings.TrimSpace(*pr.DisplayName) == "" {
		errs = append(errs, errors.New("display_name: must not be blank"))
	}

	if pr.Timezone != nil {
		if _, err := time.LoadLocation(*pr.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}

	if pr.ReminderTime != nil {
		if _, err := time.Parse(reminderTimeLayout, *pr.ReminderTime); err != nil {
			errs = append(errs, fmt.Errorf("reminder_time: must be HH:MM, got %q", *pr.ReminderTime))
		}
	}

	if pr.DailyGoal != nil && *pr.DailyGoal < 1 {
		errs = append(errs, fmt.Errorf("daily_goal: must be positive, got %d", *pr.DailyGoal))
	}

	return errors.Join(errs...)
}

func validateDate(s string) error {
	if _, err := time.Parse(statementDateLayout, s); err != nil {
		return fmt.Errorf("date: must be YYYY-MM-DD, got %q", s)
	}

	return nil
}

func validateIndex(i int) error {
	if i < 0 {
		return fmt.Errorf("index: must be >= 0, got %d", i)
	}

	return nil
}

func validateText(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("text: must not be empty")
	}

	if len(s) > maxStatementBytes {
		return fmt.Errorf("text: exceeds %d bytes", maxStatementBytes)
	}

	return nil
}

// normalizePayload returns a copy of p with statement text in NFC form, so
// that the same statement typed on different keyboards compares equal on the
// server.
func normalizePayload(p Payload) Payload {
	switch v := p.(type) {
	case AddStatementPayload:
		v.Text = norm.NFC.String(strings.TrimSpace(v.Text))
		return v
	case EditStatementPayload:
		v.Text = norm.NFC.String(strings.TrimSpace(v.Text))
		return v
	case UpdateProfilePayload:
		if v.Profile.DisplayName != nil {
			name := norm.NFC.String(strings.TrimSpace(*v.Profile.DisplayName))
			v.Profile.DisplayName = &name
		}

		return v
	default:
		return p
	}
}

// EncodePayload serializes a payload for the persisted queue.
func EncodePayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("sync: encoding %s payload: %w", p.MutationType(), err)
	}

	return data, nil
}

// DecodePayload decodes persisted data into the variant for t and validates
// it. Unknown types and malformed data both fail with ErrPermanent: retrying
// cannot make them decodable.
func DecodePayload(t MutationType, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch t {
	case MutationAddStatement:
		var v AddStatementPayload
		err = json.Unmarshal(data, &v)
		p = v
	case MutationEditStatement:
		var v EditStatementPayload
		err = json.Unmarshal(data, &v)
		p = v
	case MutationDeleteStatement:
		var v DeleteStatementPayload
		err = json.Unmarshal(data, &v)
		p = v
	case MutationUpdateProfile:
		var v UpdateProfilePayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unrecognized mutation type %s", ErrPermanent, t)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s payload: %v", ErrPermanent, t, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid %s payload: %v", ErrPermanent, t, err)
	}

	return p, nil
}
