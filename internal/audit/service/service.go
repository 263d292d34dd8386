package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
)

// Service is the append-only audit trail. Every write also goes to the
// structured log so the trail is visible in operational logging as well.
type Service struct {
	repo adomain.Repository
	log  zerolog.Logger
	now  func() time.Time
}

func New(repo adomain.Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// SetClock overrides the timestamp source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

var _ adomain.Service = (*Service)(nil)

func (s *Service) RecordSend(ctx context.Context, m ddomain.SentMessage) error {
	if err := s.repo.InsertSentMessage(ctx, m); err != nil {
		return err
	}
	s.log.Info().
		Str("message_id", m.ID.String()).
		Str("tenant_key", m.TenantKey).
		Str("status", string(m.Status)).
		Int("recipients", len(m.Outcomes)).
		Msg("dispatch recorded")
	return nil
}

func (s *Service) Append(ctx context.Context, tenantKey string, userID *uuid.UUID, action, description string) error {
	entry := adomain.LogEntry{
		TenantKey:   tenantKey,
		UserID:      userID,
		Action:      action,
		Description: description,
		TS:          s.now(),
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	ev := s.log.Info().Str("action", action).Str("tenant_key", tenantKey)
	if userID != nil {
		ev = ev.Str("user_id", userID.String())
	}
	ev.Msg(description)
	return nil
}

func (s *Service) ListSent(ctx context.Context, tenantKey string, f adomain.SentFilter) ([]ddomain.SentMessage, error) {
	return s.repo.ListSent(ctx, tenantKey, f)
}

func (s *Service) GetSent(ctx context.Context, tenantKey string, id uuid.UUID) (ddomain.SentMessage, error) {
	return s.repo.GetSentMessage(ctx, tenantKey, id)
}

func (s *Service) ListLogs(ctx context.Context, tenantKey string, f adomain.LogFilter) ([]adomain.LogEntry, error) {
	return s.repo.ListLogs(ctx, tenantKey, f)
}
