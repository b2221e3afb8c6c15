package api

// User is the signed-in account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Profile is a partial profile update. Nil fields are omitted from the
// request and left unchanged by the server.
type Profile struct {
	DisplayName  *string `json:"display_name,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
	ReminderTime *string `json:"reminder_time,omitempty"`
	DailyGoal    *int    `json:"daily_goal,omitempty"`
}

// statementBody is the request body for statement create and edit.
type statementBody struct {
	Text string `json:"text"`
}
