package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/civimail/civimail/internal/vault"
)

// ErrNoRecipients fails a dispatch before any SMTP attempt when the target
// spec resolves to nothing.
var ErrNoRecipients = errors.New("target spec resolved to no recipients")

// TargetSpec names who a dispatch goes to. Explicit addresses are taken as
// given; employee and group IDs are expanded by the resolver.
type TargetSpec struct {
	Explicit    []string `json:"explicit,omitempty"`
	EmployeeIDs []int64  `json:"employee_ids,omitempty"`
	GroupIDs    []int64  `json:"group_ids,omitempty"`
}

// Empty reports whether the spec names no targets at all.
func (t TargetSpec) Empty() bool {
	return len(t.Explicit) == 0 && len(t.EmployeeIDs) == 0 && len(t.GroupIDs) == 0
}

// Recipient is one resolved, validated address with the fields templates
// may reference.
type Recipient struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// RejectReason classifies entries the resolver dropped.
type RejectReason string

const (
	RejectInactive      RejectReason = "inactive"
	RejectWrongTenant   RejectReason = "wrong_tenant"
	RejectInvalidSyntax RejectReason = "invalid_syntax"
	RejectUnknownID     RejectReason = "unknown_id"
)

// Rejection records one dropped target entry with its reason. Ref is the
// original address or a printable id like "employee:42".
type Rejection struct {
	Ref    string       `json:"ref"`
	Reason RejectReason `json:"reason"`
}

// Resolution is the resolver's output: the final ordered recipient list
// plus diagnostics for everything that was dropped.
type Resolution struct {
	Recipients []Recipient `json:"recipients"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

// OutcomeKind is the per-address result of one dispatch.
type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered-to-server"
	OutcomeRejected  OutcomeKind = "rejected-by-server"
	OutcomeTransient OutcomeKind = "transient-failure"
	OutcomeConnect   OutcomeKind = "connect-failure"
	OutcomeAuth      OutcomeKind = "auth-failure"
)

// RecipientOutcome is the submission result for one address.
type RecipientOutcome struct {
	Email   string      `json:"email"`
	Kind    OutcomeKind `json:"outcome"`
	Code    int         `json:"smtp_code,omitempty"`
	Detail  string      `json:"detail,omitempty"`
	Retries int         `json:"retries,omitempty"`
}

// Status is the overall result of one dispatch: ok if every recipient was
// delivered to the server, failed if none, partial otherwise.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// StatusFor folds per-recipient outcomes into an overall status.
func StatusFor(outcomes []RecipientOutcome) Status {
	delivered := 0
	for _, o := range outcomes {
		if o.Kind == OutcomeDelivered {
			delivered++
		}
	}
	switch {
	case delivered == len(outcomes) && len(outcomes) > 0:
		return StatusOK
	case delivered == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Diagnostics carries the non-fatal issues of one dispatch into the audit
// record.
type Diagnostics struct {
	// EmptyFields lists placeholders that expanded to the empty string.
	EmptyFields []string `json:"empty_fields,omitempty"`
	// Rejected carries the resolver's dropped entries.
	Rejected []Rejection `json:"rejected,omitempty"`
}

// SentMessage is the immutable audit record of one dispatch.
type SentMessage struct {
	ID          uuid.UUID          `json:"id"`
	TenantKey   string             `json:"tenant_key"`
	UserID      *uuid.UUID         `json:"user_id,omitempty"`
	JobID       *uuid.UUID         `json:"job_id,omitempty"`
	Subject     string             `json:"subject"`
	BodyPreview string             `json:"body_preview"`
	Status      Status             `json:"status"`
	Outcomes    []RecipientOutcome `json:"outcomes"`
	Diagnostics Diagnostics        `json:"diagnostics"`
	SentAt      time.Time          `json:"sent_at"`
}

// Attachment is one file to submit alongside the message.
type Attachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Submission is one fully-rendered message for a single recipient.
type Submission struct {
	Recipient   Recipient
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Submitter performs mail submission for one dispatch invocation. One
// session is opened per call, authenticated once, and every submission is
// sent over it. The returned slice matches the input order.
type Submitter interface {
	Submit(ctx context.Context, profile vault.Profile, batch []Submission) []RecipientOutcome
}
