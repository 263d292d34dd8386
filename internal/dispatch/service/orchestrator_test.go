package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	"github.com/civimail/civimail/internal/config"
	domain "github.com/civimail/civimail/internal/dispatch/domain"
	"github.com/civimail/civimail/internal/logger"
	"github.com/civimail/civimail/internal/vault"
)

// memAudit records audit writes in memory.
type memAudit struct {
	sent []domain.SentMessage
	logs []adomain.LogEntry
}

func (m *memAudit) RecordSend(_ context.Context, msg domain.SentMessage) error {
	m.sent = append(m.sent, msg)
	return nil
}

func (m *memAudit) Append(_ context.Context, tenantKey string, userID *uuid.UUID, action, description string) error {
	m.logs = append(m.logs, adomain.LogEntry{TenantKey: tenantKey, UserID: userID, Action: action, Description: description})
	return nil
}

func (m *memAudit) ListSent(_ context.Context, _ string, _ adomain.SentFilter) ([]domain.SentMessage, error) {
	return m.sent, nil
}

func (m *memAudit) GetSent(_ context.Context, _ string, _ uuid.UUID) (domain.SentMessage, error) {
	return domain.SentMessage{}, adomain.ErrNotFound
}

func (m *memAudit) ListLogs(_ context.Context, _ string, _ adomain.LogFilter) ([]adomain.LogEntry, error) {
	return m.logs, nil
}

// scriptedSubmitter returns a fixed outcome kind per recipient position.
type scriptedSubmitter struct {
	kinds []domain.OutcomeKind
	codes []int
	got   []domain.Submission
}

func (s *scriptedSubmitter) Submit(_ context.Context, _ vault.Profile, batch []domain.Submission) []domain.RecipientOutcome {
	s.got = batch
	out := make([]domain.RecipientOutcome, len(batch))
	for i, sub := range batch {
		kind := domain.OutcomeDelivered
		if i < len(s.kinds) {
			kind = s.kinds[i]
		}
		out[i] = domain.RecipientOutcome{Email: sub.Recipient.Email, Kind: kind}
		if i < len(s.codes) {
			out[i].Code = s.codes[i]
		}
	}
	return out
}

func testVault(signature string) *vault.Vault {
	return vault.New(config.Config{
		Tenants: map[string]config.Tenant{
			"pref": {
				DisplayName: "Prefecture",
				SMTP:        config.SMTP{Host: "mail.example", Port: 587, Username: "u", Password: "p", From: "noreply@example"},
				Signature:   signature,
			},
		},
	})
}

func testOrchestrator(sub domain.Submitter, signature string) (*Orchestrator, *memAudit) {
	audit := &memAudit{}
	orch := NewOrchestrator(NewResolver(testDirectory()), testVault(signature), sub, audit, logger.Nop())
	return orch, audit
}

func testSender() Sender {
	id := uuid.New()
	return Sender{UserID: &id, TenantKey: "pref", Name: "Op", Role: "operator"}
}

func TestDispatchSingleRecipientOK(t *testing.T) {
	sub := &scriptedSubmitter{}
	orch, audit := testOrchestrator(sub, "")

	msg, err := orch.Dispatch(context.Background(), testSender(), SendInput{
		Subject: "Hi {name}",
		Body:    "Dear {name}, see attached.",
		Target:  domain.TargetSpec{EmployeeIDs: []int64{1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi Ana", msg.Subject)
	assert.Equal(t, domain.StatusOK, msg.Status)
	require.Len(t, msg.Outcomes, 1)
	assert.Equal(t, "ana@x.example", msg.Outcomes[0].Email)
	assert.Equal(t, domain.OutcomeDelivered, msg.Outcomes[0].Kind)

	require.Len(t, sub.got, 1)
	assert.Contains(t, sub.got[0].HTML, "Dear Ana")

	require.Len(t, audit.sent, 1)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, adomain.ActionSend, audit.logs[0].Action)
}

func TestDispatchPartialFailure(t *testing.T) {
	sub := &scriptedSubmitter{
		kinds: []domain.OutcomeKind{domain.OutcomeDelivered, domain.OutcomeRejected},
		codes: []int{0, 550},
	}
	orch, _ := testOrchestrator(sub, "")

	msg, err := orch.Dispatch(context.Background(), testSender(), SendInput{
		Subject: "Notice",
		Body:    "Hello",
		Target:  domain.TargetSpec{Explicit: []string{"a@x.example", "b@x.example"}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartial, msg.Status)
	assert.Equal(t, domain.OutcomeDelivered, msg.Outcomes[0].Kind)
	assert.Equal(t, domain.OutcomeRejected, msg.Outcomes[1].Kind)
	assert.Equal(t, 550, msg.Outcomes[1].Code)
}

func TestDispatchNoRecipientsWritesNoSentMessage(t *testing.T) {
	sub := &scriptedSubmitter{}
	orch, audit := testOrchestrator(sub, "")

	_, err := orch.Dispatch(context.Background(), testSender(), SendInput{
		Subject: "Notice",
		Body:    "Hello",
		Target:  domain.TargetSpec{EmployeeIDs: []int64{2}}, // inactive only
	})
	assert.ErrorIs(t, err, domain.ErrNoRecipients)

	assert.Empty(t, audit.sent)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, adomain.ActionSendAborted, audit.logs[0].Action)
	assert.Nil(t, sub.got)
}

func TestDispatchUnknownFieldRecordedAndStillOK(t *testing.T) {
	sub := &scriptedSubmitter{}
	orch, _ := testOrchestrator(sub, "")

	msg, err := orch.Dispatch(context.Background(), testSender(), SendInput{
		Subject: "Hello",
		Body:    "Hi {first_name}",
		Target:  domain.TargetSpec{EmployeeIDs: []int64{1}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOK, msg.Status)
	assert.Contains(t, msg.Diagnostics.EmptyFields, "first_name")
	assert.Contains(t, sub.got[0].HTML, "Hi ")
}

func TestDispatchSignatureUsesSenderFields(t *testing.T) {
	sub := &scriptedSubmitter{}
	orch, _ := testOrchestrator(sub, "-- {name}, {role}")

	_, err := orch.Dispatch(context.Background(), testSender(), SendInput{
		Subject: "Hello",
		Body:    "Hi",
		Target:  domain.TargetSpec{EmployeeIDs: []int64{1}},
	})
	require.NoError(t, err)

	assert.Contains(t, sub.got[0].HTML, "-- Op, operator")
}

func TestDispatchUnconfiguredTenantFailsBeforeResolve(t *testing.T) {
	sub := &scriptedSubmitter{}
	orch, audit := testOrchestrator(sub, "")

	sender := testSender()
	sender.TenantKey = "ghost"
	_, err := orch.Dispatch(context.Background(), sender, SendInput{
		Subject: "Hello",
		Body:    "Hi",
		Target:  domain.TargetSpec{EmployeeIDs: []int64{1}},
	})
	assert.ErrorIs(t, err, vault.ErrUnconfigured)
	assert.Empty(t, audit.sent)
	assert.Nil(t, sub.got)
}

func TestDispatchResolverRejectionsLandInDiagnostics(t *testing.T) {
	sub := &scriptedSubmitter{}
	orch, _ := testOrchestrator(sub, "")

	msg, err := orch.Dispatch(context.Background(), testSender(), SendInput{
		Subject: "Hello",
		Body:    "Hi",
		Target:  domain.TargetSpec{GroupIDs: []int64{10}},
	})
	require.NoError(t, err)

	require.Len(t, msg.Diagnostics.Rejected, 1)
	assert.Equal(t, domain.RejectInactive, msg.Diagnostics.Rejected[0].Reason)
}
