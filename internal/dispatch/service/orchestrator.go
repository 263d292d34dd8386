package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	domain "github.com/civimail/civimail/internal/dispatch/domain"
	"github.com/civimail/civimail/internal/metrics"
	"github.com/civimail/civimail/internal/render"
	"github.com/civimail/civimail/internal/vault"
)

const (
	dispatchTimeout = 10 * time.Minute
	previewLimit    = 1024
)

// Trigger names where a dispatch came from, for metrics and logging.
const (
	TriggerImmediate = "immediate"
	TriggerScheduled = "scheduled"
)

// Sender is the person a dispatch runs on behalf of; its fields feed the
// tenant signature template.
type Sender struct {
	UserID     *uuid.UUID
	TenantKey  string
	Name       string
	Role       string
	Department string
	Phone      string
	Email      string
}

func (s Sender) fields() render.Fields {
	return render.Fields{
		"name":       s.Name,
		"role":       s.Role,
		"department": s.Department,
		"phone":      s.Phone,
		"email":      s.Email,
	}
}

// SendInput is one dispatch request, immediate or scheduled.
type SendInput struct {
	Subject     string
	Body        string
	Target      domain.TargetSpec
	Attachments []domain.Attachment
	JobID       *uuid.UUID
	Trigger     string
}

// Orchestrator drives the dispatch pipeline: resolve, render per
// recipient, submit over one SMTP session, record the audit trail.
type Orchestrator struct {
	resolver *Resolver
	vault    *vault.Vault
	submit   domain.Submitter
	audit    adomain.Service
	log      zerolog.Logger
	now      func() time.Time
}

func NewOrchestrator(resolver *Resolver, v *vault.Vault, submit domain.Submitter, audit adomain.Service, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		vault:    v,
		submit:   submit,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Dispatch runs one send end to end and returns the immutable audit
// record. Pre-check failures (unconfigured tenant, no recipients) return
// an error and write no SentMessage.
func (o *Orchestrator) Dispatch(ctx context.Context, sender Sender, in SendInput) (domain.SentMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	started := o.now()

	trigger := in.Trigger
	if trigger == "" {
		trigger = TriggerImmediate
	}

	profile, err := o.vault.Lookup(sender.TenantKey)
	if err != nil {
		return domain.SentMessage{}, err
	}

	resolution, err := o.resolver.Resolve(ctx, sender.TenantKey, in.Target)
	if errors.Is(err, domain.ErrNoRecipients) {
		_ = o.audit.Append(ctx, sender.TenantKey, sender.UserID, adomain.ActionSendAborted,
			fmt.Sprintf("dispatch %q resolved to no recipients", in.Subject))
		return domain.SentMessage{}, err
	}
	if err != nil {
		return domain.SentMessage{}, err
	}

	senderFields := sender.fields()
	diag := domain.Diagnostics{Rejected: resolution.Rejected}
	emptySeen := map[string]bool{}

	var preview render.Rendered
	batch := make([]domain.Submission, len(resolution.Recipients))
	for i, rec := range resolution.Recipients {
		r := render.Message(in.Subject, in.Body, render.Fields{
			"name":       rec.Name,
			"email":      rec.Email,
			"department": rec.Department,
			"phone":      rec.Phone,
		}, profile.Signature, senderFields)
		if i == 0 {
			preview = r
		}
		for _, name := range r.Empty {
			if !emptySeen[name] {
				emptySeen[name] = true
				diag.EmptyFields = append(diag.EmptyFields, name)
			}
		}
		batch[i] = domain.Submission{
			Recipient:   rec,
			Subject:     r.Subject,
			HTML:        r.HTML,
			Text:        r.Text,
			Attachments: in.Attachments,
		}
	}

	outcomes := o.submit.Submit(ctx, profile, batch)
	status := domain.StatusFor(outcomes)

	msg := domain.SentMessage{
		ID:          uuid.New(),
		TenantKey:   sender.TenantKey,
		UserID:      sender.UserID,
		JobID:       in.JobID,
		Subject:     preview.Subject,
		BodyPreview: truncate(preview.HTML, previewLimit),
		Status:      status,
		Outcomes:    outcomes,
		Diagnostics: diag,
		SentAt:      o.now(),
	}
	if err := o.audit.RecordSend(ctx, msg); err != nil {
		return domain.SentMessage{}, fmt.Errorf("record dispatch: %w", err)
	}
	_ = o.audit.Append(ctx, sender.TenantKey, sender.UserID, adomain.ActionSend,
		fmt.Sprintf("dispatched %q to %d recipients (%s)", msg.Subject, len(outcomes), status))

	metrics.IncDispatch(string(status), trigger)
	metrics.ObserveDispatchDuration(o.now().Sub(started).Seconds())
	o.log.Info().
		Str("message_id", msg.ID.String()).
		Str("tenant_key", msg.TenantKey).
		Str("status", string(status)).
		Str("trigger", trigger).
		Int("recipients", len(outcomes)).
		Msg("dispatch finished")
	return msg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
