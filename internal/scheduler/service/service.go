package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civimail/civimail/internal/attachments"
	adomain "github.com/civimail/civimail/internal/audit/domain"
	audomain "github.com/civimail/civimail/internal/auth/domain"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
	dsvc "github.com/civimail/civimail/internal/dispatch/service"
	"github.com/civimail/civimail/internal/metrics"
	sdomain "github.com/civimail/civimail/internal/scheduler/domain"
)

const (
	claimLimit = 16

	// storagePause replaces the regular tick interval after a storage
	// failure; maxStorageFailures consecutive ones escalate to a fatal
	// shutdown so the operator notices a corrupt database.
	storagePause       = 60 * time.Second
	maxStorageFailures = 5
)

var ErrEmptyTarget = errors.New("target spec names no recipients")

// ScheduleInput is the operator-facing payload for a new job. ID may be
// pre-minted by the caller so uploaded attachments land under the job's
// own directory; zero means mint one here.
type ScheduleInput struct {
	ID          uuid.UUID
	Subject     string
	Body        string
	Target      ddomain.TargetSpec
	ScheduledAt time.Time
	Recurrence  *sdomain.Recurrence
	Attachments []ddomain.Attachment
}

// Service owns the scheduled-jobs lifecycle and the fire loop. One
// instance runs per process; the loop is a single goroutine and each
// tick is independently callable so tests can drive time directly.
type Service struct {
	repo     sdomain.Repository
	orch     *dsvc.Orchestrator
	users    audomain.Service
	audit    adomain.Service
	store    *attachments.Store
	loc      *time.Location
	interval time.Duration
	log      zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration)

	storageFailures int
	fatal           chan error
}

func New(repo sdomain.Repository, orch *dsvc.Orchestrator, users audomain.Service, audit adomain.Service, store *attachments.Store, loc *time.Location, interval time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		orch:     orch,
		users:    users,
		audit:    audit,
		store:    store,
		loc:      loc,
		interval: interval,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		fatal:    make(chan error, 1),
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Fatal reports unrecoverable storage failure. The process watches it and
// exits with the storage-corruption code.
func (s *Service) Fatal() <-chan error { return s.fatal }

// Schedule validates and persists a new job. The first fire is the
// scheduled time itself.
func (s *Service) Schedule(ctx context.Context, actor audomain.User, in ScheduleInput) (sdomain.Job, error) {
	if in.Subject == "" {
		return sdomain.Job{}, fmt.Errorf("subject is required")
	}
	if in.Target.Empty() {
		return sdomain.Job{}, ErrEmptyTarget
	}
	if in.Recurrence != nil {
		if err := in.Recurrence.Validate(); err != nil {
			return sdomain.Job{}, err
		}
	}

	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	scheduledAt := in.ScheduledAt.In(s.loc)
	next := scheduledAt
	j := sdomain.Job{
		ID:          id,
		TenantKey:   actor.TenantKey,
		UserID:      actor.ID,
		Subject:     in.Subject,
		Body:        in.Body,
		Target:      in.Target,
		Recurrence:  in.Recurrence,
		Status:      sdomain.StatusPending,
		ScheduledAt: scheduledAt,
		NextFireAt:  &next,
		CreatedAt:   s.now(),
		Attachments: in.Attachments,
	}
	if in.Recurrence != nil && in.Recurrence.Count != nil {
		left := *in.Recurrence.Count
		j.FiresLeft = &left
	}
	if err := s.repo.Insert(ctx, j); err != nil {
		return sdomain.Job{}, fmt.Errorf("schedule job: %w", err)
	}
	_ = s.audit.Append(ctx, actor.TenantKey, &actor.ID, adomain.ActionJobScheduled,
		fmt.Sprintf("scheduled %q for %s", j.Subject, scheduledAt.Format(time.RFC3339)))
	return j, nil
}

func (s *Service) List(ctx context.Context, tenantKey string) ([]sdomain.Job, error) {
	return s.repo.List(ctx, tenantKey)
}

func (s *Service) Get(ctx context.Context, tenantKey string, id uuid.UUID) (sdomain.Job, error) {
	return s.repo.Get(ctx, tenantKey, id)
}

// Cancel stops a pending job and deletes its attachment files. Running
// jobs are not preempted.
func (s *Service) Cancel(ctx context.Context, tenantKey string, actorID uuid.UUID, id uuid.UUID) (sdomain.Job, error) {
	j, err := s.repo.Cancel(ctx, tenantKey, id)
	if err != nil {
		return sdomain.Job{}, err
	}
	if err := s.store.Remove(j.ID.String()); err != nil {
		s.log.Warn().Err(err).Str("job_id", j.ID.String()).Msg("attachment cleanup failed")
	}
	_ = s.audit.Append(ctx, tenantKey, &actorID, adomain.ActionJobCancelled,
		fmt.Sprintf("cancelled job %q", j.Subject))
	return j, nil
}

// Run is the fire loop. It requeues jobs left running by a crash, then
// ticks until the context ends. A storage failure pauses the loop for a
// minute instead of the regular interval.
func (s *Service) Run(ctx context.Context) {
	if n, err := s.repo.RequeueStale(ctx); err != nil {
		s.log.Error().Err(err).Msg("requeue interrupted jobs failed")
	} else if n > 0 {
		s.log.Warn().Int("jobs", n).Msg("requeued jobs interrupted by previous shutdown")
	}

	for {
		pause := s.interval
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			pause = storagePause
			s.storageFailures++
			s.log.Error().Err(err).Int("consecutive", s.storageFailures).Msg("scheduler tick failed")
			if s.storageFailures >= maxStorageFailures {
				select {
				case s.fatal <- fmt.Errorf("scheduler: %d consecutive storage failures: %w", s.storageFailures, err):
				default:
				}
				return
			}
		} else {
			s.storageFailures = 0
		}

		s.sleep(ctx, pause)
		if ctx.Err() != nil {
			return
		}
	}
}

// Tick claims every due job and fires them in next_fire_at order. Only
// storage errors are returned; dispatch failures are recorded on the job.
func (s *Service) Tick(ctx context.Context) error {
	metrics.IncSchedulerTick()
	claimed, err := s.repo.ClaimDue(ctx, s.now(), claimLimit)
	if err != nil {
		return fmt.Errorf("claim due jobs: %w", err)
	}
	metrics.AddJobsClaimed(len(claimed))

	for _, j := range claimed {
		if err := s.fire(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// fire runs one dispatch for a claimed job and re-arms or finishes it.
func (s *Service) fire(ctx context.Context, j sdomain.Job) error {
	firedAt := s.now()
	status := s.dispatch(ctx, j)

	c := sdomain.Completion{Status: sdomain.StatusFailed, FiredAt: firedAt}
	if status == ddomain.StatusOK || status == ddomain.StatusPartial {
		c.Status = sdomain.StatusDone
	}

	// A failed fire does not re-arm: the operator inspects and
	// reschedules rather than having a broken job retry forever.
	if c.Status == sdomain.StatusDone && j.Recurrence != nil {
		c.NextFireAt, c.FiresLeft = s.rearm(j)
		if c.NextFireAt != nil {
			c.Status = sdomain.StatusPending
		}
	}

	if err := s.repo.Complete(ctx, j.ID, c); err != nil {
		return fmt.Errorf("complete fire: %w", err)
	}
	if c.Status.Terminal() {
		if err := s.store.Remove(j.ID.String()); err != nil {
			s.log.Warn().Err(err).Str("job_id", j.ID.String()).Msg("attachment cleanup failed")
		}
	}

	desc := fmt.Sprintf("job %q fired (%s)", j.Subject, c.Status)
	if c.NextFireAt != nil {
		desc = fmt.Sprintf("job %q fired, next at %s", j.Subject, c.NextFireAt.Format(time.RFC3339))
	}
	_ = s.audit.Append(ctx, j.TenantKey, nil, adomain.ActionJobFired, desc)
	return nil
}

// dispatch runs the pipeline for one fire and maps the result to an
// overall dispatch status. Pipeline errors count as a failed fire.
func (s *Service) dispatch(ctx context.Context, j sdomain.Job) ddomain.Status {
	sender, err := s.sender(ctx, j)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", j.ID.String()).Msg("job owner lookup failed")
		return ddomain.StatusFailed
	}

	msg, err := s.orch.Dispatch(ctx, sender, dsvc.SendInput{
		Subject:     j.Subject,
		Body:        j.Body,
		Target:      j.Target,
		Attachments: j.Attachments,
		JobID:       &j.ID,
		Trigger:     dsvc.TriggerScheduled,
	})
	if err != nil {
		s.log.Error().Err(err).Str("job_id", j.ID.String()).Msg("scheduled dispatch failed")
		return ddomain.StatusFailed
	}
	return msg.Status
}

// sender rebuilds the dispatch sender from the job's owner so signature
// fields reflect the owner's current profile.
func (s *Service) sender(ctx context.Context, j sdomain.Job) (dsvc.Sender, error) {
	u, err := s.users.GetUser(ctx, j.UserID)
	if err != nil {
		return dsvc.Sender{}, err
	}
	id := u.ID
	return dsvc.Sender{
		UserID:     &id,
		TenantKey:  j.TenantKey,
		Name:       u.Name,
		Role:       string(u.Role),
		Department: u.Department,
		Phone:      u.Phone,
		Email:      u.Email,
	}, nil
}

// rearm computes the next fire from the fire that just ran, so recurring
// jobs never drift with dispatch latency.
func (s *Service) rearm(j sdomain.Job) (*time.Time, *int) {
	left := j.FiresLeft
	if left != nil {
		n := *left - 1
		left = &n
		if n <= 0 {
			return nil, left
		}
	}

	base := j.ScheduledAt
	if j.NextFireAt != nil {
		base = *j.NextFireAt
	}
	next := j.Recurrence.Next(base, s.loc)
	if j.Recurrence.Until != nil && next.After(*j.Recurrence.Until) {
		return nil, left
	}
	return &next, left
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
