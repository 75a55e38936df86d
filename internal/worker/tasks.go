package worker

import "github.com/clmc/procurement/internal/model"

// SyncPersonnelArgs propagates a project's personnel change to the
// assigned_project_codes of the users involved.
type SyncPersonnelArgs struct {
	ProjectCode     string   `json:"project_code"`
	PreviousUserIDs []string `json:"previous_user_ids"`
	NewUserIDs      []string `json:"new_user_ids"`
}

// Kind returns the task kind.
func (SyncPersonnelArgs) Kind() string { return "sync_personnel" }

// SyncAssignmentArgs propagates a user's assignment change to the personnel
// lists of the projects involved.
type SyncAssignmentArgs struct {
	UserID        string   `json:"user_id"`
	PreviousCodes []string `json:"previous_codes"`
	NewCodes      []string `json:"new_codes"`
}

// Kind returns the task kind.
func (SyncAssignmentArgs) Kind() string { return "sync_assignment" }

// RecordHistoryArgs appends one edit history entry.
type RecordHistoryArgs struct {
	Entry model.EditHistoryEntry `json:"entry"`
}

// Kind returns the task kind.
func (RecordHistoryArgs) Kind() string { return "record_history" }

// SendMailArgs delivers one notification mail.
type SendMailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Kind returns the task kind.
func (SendMailArgs) Kind() string { return "send_mail" }
