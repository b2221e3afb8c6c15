package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// AddStatement appends a statement to the entry for date (YYYY-MM-DD).
func (c *Client) AddStatement(ctx context.Context, userID, idemKey, date, text string) error {
	body, err := json.Marshal(statementBody{Text: text})
	if err != nil {
		return fmt.Errorf("api: encoding statement: %w", err)
	}

	return c.write(ctx, http.MethodPost, statementsPath(userID, date), body, idemKey)
}

// EditStatement replaces the statement at index within date's entry.
func (c *Client) EditStatement(ctx context.Context, userID, idemKey, date string, index int, text string) error {
	body, err := json.Marshal(statementBody{Text: text})
	if err != nil {
		return fmt.Errorf("api: encoding statement: %w", err)
	}

	return c.write(ctx, http.MethodPut, statementPath(userID, date, index), body, idemKey)
}

// DeleteStatement removes the statement at index within date's entry.
func (c *Client) DeleteStatement(ctx context.Context, userID, idemKey, date string, index int) error {
	return c.write(ctx, http.MethodDelete, statementPath(userID, date, index), nil, idemKey)
}

// UpdateProfile patches the user's profile with the non-nil fields.
func (c *Client) UpdateProfile(ctx context.Context, userID, idemKey string, profile Profile) error {
	body, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("api: encoding profile: %w", err)
	}

	return c.write(ctx, http.MethodPatch, "/users/"+url.PathEscape(userID)+"/profile", body, idemKey)
}

// Me returns the account the current token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/me", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("api: decoding user: %w", err)
	}

	if u.ID == "" {
		return nil, fmt.Errorf("api: /me returned no user id")
	}

	return &u, nil
}

// write performs a mutation request and discards the response body.
func (c *Client) write(ctx context.Context, method, path string, body []byte, idemKey string) error {
	resp, err := c.Do(ctx, method, path, body, idemKey)
	if err != nil {
		return err
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return nil
}

func statementsPath(userID, date string) string {
	return "/users/" + url.PathEscape(userID) + "/statements/" + url.PathEscape(date)
}

func statementPath(userID, date string, index int) string {
	return statementsPath(userID, date) + "/" + strconv.Itoa(index)
}
