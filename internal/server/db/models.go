package db

import (
	"fmt"
	"time"
)

// Status is the approval state of an account. The gateway only ever writes
// StatusPending at account creation; the transitions out of pending belong
// to administrative actions.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, error) {
	switch Status(v) {
	case StatusPending, StatusApproved, StatusDenied:
		return Status(v), nil
	}
	return "", fmt.Errorf("invalid status %q (expected pending|approved|denied)", v)
}

// CanTransition reports whether moving from s to the target status is a
// legal transition. Only pending accounts move, and only to approved or
// denied; both of those are terminal.
func (s Status) CanTransition(to Status) bool {
	return s == StatusPending && (to == StatusApproved || to == StatusDenied)
}

// Account is a locally governed record gating whether a verified identity
// may obtain tailnet auth keys. ID is the Google subject; id and email are
// immutable once created.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

// Permission is an extra capability granted to an account by an admin.
type Permission struct {
	AccountID  string    `json:"account_id"`
	Permission string    `json:"permission"`
	GrantedAt  time.Time `json:"granted_at"`
}
