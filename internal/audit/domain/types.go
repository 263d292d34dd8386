package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
)

var ErrNotFound = errors.New("not found")

// Log actions recorded by the dispatcher. Operator actions carry the
// acting user's id; system actions leave it nil.
const (
	ActionLogin             = "login"
	ActionLoginFailed       = "login-failed"
	ActionUserCreated       = "user-created"
	ActionEmployeeUpserted  = "employee-upserted"
	ActionEmployeeDeactived = "employee-deactivated"
	ActionGroupUpserted     = "group-upserted"
	ActionGroupMembersSet   = "group-members-set"
	ActionTemplateUpserted  = "template-upserted"
	ActionSend              = "send"
	ActionSendAborted       = "aborted-no-recipients"
	ActionJobScheduled      = "job-scheduled"
	ActionJobCancelled      = "job-cancelled"
	ActionJobFired          = "job-fired"
)

// LogEntry is one append-only audit row.
type LogEntry struct {
	ID          int64      `json:"id"`
	TenantKey   string     `json:"tenant_key,omitempty"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Action      string     `json:"action"`
	Description string     `json:"description"`
	TS          time.Time  `json:"ts"`
}

// SentFilter narrows sent-message listings.
type SentFilter struct {
	UserID *uuid.UUID
	From   *time.Time
	To     *time.Time
	Limit  int
}

// LogFilter narrows log listings.
type LogFilter struct {
	Action string
	Limit  int
}

// Repository is the append-only persistence for the audit trail. There is
// deliberately no update or delete surface.
type Repository interface {
	InsertSentMessage(ctx context.Context, m ddomain.SentMessage) error
	ListSent(ctx context.Context, tenantKey string, f SentFilter) ([]ddomain.SentMessage, error)
	GetSentMessage(ctx context.Context, tenantKey string, id uuid.UUID) (ddomain.SentMessage, error)
	AppendLog(ctx context.Context, e LogEntry) error
	ListLogs(ctx context.Context, tenantKey string, f LogFilter) ([]LogEntry, error)
}

// Service is the audit write/read path used by the other slices.
type Service interface {
	RecordSend(ctx context.Context, m ddomain.SentMessage) error
	Append(ctx context.Context, tenantKey string, userID *uuid.UUID, action, description string) error
	ListSent(ctx context.Context, tenantKey string, f SentFilter) ([]ddomain.SentMessage, error)
	GetSent(ctx context.Context, tenantKey string, id uuid.UUID) (ddomain.SentMessage, error)
	ListLogs(ctx context.Context, tenantKey string, f LogFilter) ([]LogEntry, error)
}
