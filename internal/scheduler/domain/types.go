package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyRunning rejects cancellation of a job mid-fire. The
	// operator retries after the fire completes.
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrNotCancellable rejects cancellation of a job in a terminal state.
	ErrNotCancellable = errors.New("job is already finished")
)

// Status is the job state machine: pending -> running -> (done | failed),
// or pending -> cancelled. Recurring jobs re-enter pending on completion.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job will never fire again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is one scheduled dispatch, possibly recurring.
type Job struct {
	ID          uuid.UUID           `json:"id"`
	TenantKey   string              `json:"tenant_key"`
	UserID      uuid.UUID           `json:"user_id"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Target      ddomain.TargetSpec  `json:"target"`
	Recurrence  *Recurrence         `json:"recurrence,omitempty"`
	Status      Status              `json:"status"`
	ScheduledAt time.Time           `json:"scheduled_at"`
	NextFireAt  *time.Time          `json:"next_fire_at,omitempty"`
	LastFireAt  *time.Time          `json:"last_fire_at,omitempty"`
	FiresLeft   *int                `json:"fires_left,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	Attachments []ddomain.Attachment `json:"attachments,omitempty"`
}

// Completion is the repository-side result of one fire: the new status and
// the re-arm values (nil NextFireAt means no further fires).
type Completion struct {
	Status     Status
	NextFireAt *time.Time
	FiresLeft  *int
	FiredAt    time.Time
}

// Repository persists scheduled jobs. Reads used by the operator UI are
// tenant-scoped; ClaimDue and Complete run across tenants because the
// dispatcher fires every tenant's jobs from one loop.
type Repository interface {
	Insert(ctx context.Context, j Job) error
	List(ctx context.Context, tenantKey string) ([]Job, error)
	Get(ctx context.Context, tenantKey string, id uuid.UUID) (Job, error)

	// ClaimDue transactionally moves pending jobs with next_fire_at <= now
	// to running and returns them ordered by next_fire_at then id. Each
	// fire is yielded to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)

	Complete(ctx context.Context, id uuid.UUID, c Completion) error
	Cancel(ctx context.Context, tenantKey string, id uuid.UUID) (Job, error)

	// RequeueStale moves running jobs back to pending. Called once at
	// startup: a job still running then was interrupted by a crash, and
	// re-firing it is the documented at-least-once behavior.
	RequeueStale(ctx context.Context) (int, error)
}
