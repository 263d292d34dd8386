package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civimail/civimail/internal/attachments"
	adomain "github.com/civimail/civimail/internal/audit/domain"
	auditrepo "github.com/civimail/civimail/internal/audit/repository"
	auditsvc "github.com/civimail/civimail/internal/audit/service"
	audomain "github.com/civimail/civimail/internal/auth/domain"
	"github.com/civimail/civimail/internal/config"
	"github.com/civimail/civimail/internal/db"
	dirdomain "github.com/civimail/civimail/internal/directory/domain"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
	dsvc "github.com/civimail/civimail/internal/dispatch/service"
	"github.com/civimail/civimail/internal/logger"
	sdomain "github.com/civimail/civimail/internal/scheduler/domain"
	schedrepo "github.com/civimail/civimail/internal/scheduler/repository"
	"github.com/civimail/civimail/internal/vault"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubUsers struct {
	user audomain.User
}

func (s *stubUsers) Authenticate(context.Context, string, string) (audomain.Session, error) {
	return audomain.Session{}, audomain.ErrBadCredentials
}

func (s *stubUsers) CreateUser(context.Context, audomain.User, audomain.CreateUserInput) (audomain.User, error) {
	return audomain.User{}, nil
}

func (s *stubUsers) GetUser(context.Context, uuid.UUID) (audomain.User, error) {
	return s.user, nil
}

type stubDirectory struct {
	dirdomain.Repository
}

func (s *stubDirectory) GetEmployee(_ context.Context, id int64) (dirdomain.Employee, error) {
	if id != 1 {
		return dirdomain.Employee{}, dirdomain.ErrNotFound
	}
	return dirdomain.Employee{ID: 1, TenantKey: "pref", Email: "ana@x.example", Name: "Ana", Active: true}, nil
}

type stubSubmitter struct {
	kind  ddomain.OutcomeKind
	calls int
}

func (s *stubSubmitter) Submit(_ context.Context, _ vault.Profile, batch []ddomain.Submission) []ddomain.RecipientOutcome {
	s.calls++
	out := make([]ddomain.RecipientOutcome, len(batch))
	for i, sub := range batch {
		out[i] = ddomain.RecipientOutcome{Email: sub.Recipient.Email, Kind: s.kind}
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     *schedrepo.SQLiteRepository
	audit    adomain.Service
	store    *attachments.Store
	clock    *fakeClock
	submit   *stubSubmitter
	operator audomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	store, err := attachments.New(filepath.Join(t.TempDir(), "attachments"))
	require.NoError(t, err)

	operator := audomain.User{
		ID: uuid.New(), Email: "op@pref.example", Name: "Op",
		TenantKey: "pref", Role: audomain.RoleOperator,
	}
	insertUser(t, database, operator)

	clock := &fakeClock{t: time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)}
	submit := &stubSubmitter{kind: ddomain.OutcomeDelivered}

	audit := auditsvc.New(auditrepo.New(database), logger.Nop())
	audit.SetClock(clock.Now)

	credentials := vault.New(config.Config{
		Tenants: map[string]config.Tenant{
			"pref": {SMTP: config.SMTP{Host: "mail.example", Port: 587, From: "noreply@example"}},
		},
	})
	orch := dsvc.NewOrchestrator(dsvc.NewResolver(&stubDirectory{}), credentials, submit, audit, logger.Nop())
	orch.SetClock(clock.Now)

	repo := schedrepo.New(database)
	svc := New(repo, orch, &stubUsers{user: operator}, audit, store, time.UTC, 30*time.Second, logger.Nop())
	svc.SetClock(clock.Now)

	return &fixture{svc: svc, repo: repo, audit: audit, store: store, clock: clock, submit: submit, operator: operator}
}

func insertUser(t *testing.T, database *sql.DB, u audomain.User) {
	t.Helper()
	_, err := database.Exec(
		`INSERT INTO users (id, email, name, password_hash, tenant_key, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.Name, "x", u.TenantKey, string(u.Role), db.FormatTime(time.Now()))
	require.NoError(t, err)
}

func (f *fixture) schedule(t *testing.T, at time.Time, rec *sdomain.Recurrence, atts ...ddomain.Attachment) sdomain.Job {
	t.Helper()
	j, err := f.svc.Schedule(context.Background(), f.operator, ScheduleInput{
		Subject:     "Hi {name}",
		Body:        "Hello {name}",
		Target:      ddomain.TargetSpec{EmployeeIDs: []int64{1}},
		ScheduledAt: at,
		Recurrence:  rec,
		Attachments: atts,
	})
	require.NoError(t, err)
	return j
}

func (f *fixture) sentCount(t *testing.T) int {
	t.Helper()
	list, err := f.audit.ListSent(context.Background(), "pref", adomain.SentFilter{})
	require.NoError(t, err)
	return len(list)
}

func TestTickFiresDueJobOnce(t *testing.T) {
	f := newFixture(t)
	job := f.schedule(t, f.clock.Now(), nil)

	require.NoError(t, f.svc.Tick(context.Background()))

	got, err := f.repo.Get(context.Background(), "pref", job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusDone, got.Status)
	assert.Nil(t, got.NextFireAt)
	require.NotNil(t, got.LastFireAt)
	assert.Equal(t, 1, f.sentCount(t))

	// A later tick finds nothing to claim.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Equal(t, 1, f.submit.calls)
}

func TestTickSkipsFutureJobs(t *testing.T) {
	f := newFixture(t)
	job := f.schedule(t, f.clock.Now().Add(time.Hour), nil)

	require.NoError(t, f.svc.Tick(context.Background()))

	got, err := f.repo.Get(context.Background(), "pref", job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusPending, got.Status)
	assert.Equal(t, 0, f.submit.calls)
}

func TestDailyRecurrenceThreeFires(t *testing.T) {
	f := newFixture(t)
	count := 3
	start := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	job := f.schedule(t, start, &sdomain.Recurrence{Kind: sdomain.KindDaily, Count: &count})

	a, err := f.store.Save(job.ID.String(), "notice.pdf", strings.NewReader("pdf"))
	require.NoError(t, err)

	for day := 0; day < 3; day++ {
		f.clock.Advance(start.Sub(f.clock.Now()) + time.Duration(day)*24*time.Hour + time.Minute)
		require.NoError(t, f.svc.Tick(context.Background()))
	}

	got, err := f.repo.Get(context.Background(), "pref", job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusDone, got.Status)
	assert.Nil(t, got.NextFireAt)
	require.NotNil(t, got.FiresLeft)
	assert.Equal(t, 0, *got.FiresLeft)
	assert.Equal(t, 3, f.sentCount(t))

	_, statErr := os.Stat(a.Path)
	assert.True(t, os.IsNotExist(statErr), "attachments should be deleted after the last fire")
}

func TestRecurrenceRearmsFromScheduledTimeNotWallClock(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	job := f.schedule(t, start, &sdomain.Recurrence{Kind: sdomain.KindDaily})

	// The tick runs late; the next fire still lands at 09:00 sharp.
	f.clock.Advance(start.Sub(f.clock.Now()) + 3*time.Hour)
	require.NoError(t, f.svc.Tick(context.Background()))

	got, err := f.repo.Get(context.Background(), "pref", job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusPending, got.Status)
	require.NotNil(t, got.NextFireAt)
	assert.Equal(t, start.AddDate(0, 0, 1), got.NextFireAt.UTC())
}

func TestFailedFireStopsRecurrence(t *testing.T) {
	f := newFixture(t)
	f.submit.kind = ddomain.OutcomeConnect
	job := f.schedule(t, f.clock.Now(), &sdomain.Recurrence{Kind: sdomain.KindDaily})

	require.NoError(t, f.svc.Tick(context.Background()))

	got, err := f.repo.Get(context.Background(), "pref", job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusFailed, got.Status)
	assert.Nil(t, got.NextFireAt)
}

func TestRecurrenceUntilBound(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	until := start.Add(12 * time.Hour)
	job := f.schedule(t, start, &sdomain.Recurrence{Kind: sdomain.KindDaily, Until: &until})

	f.clock.Advance(start.Sub(f.clock.Now()) + time.Minute)
	require.NoError(t, f.svc.Tick(context.Background()))

	got, err := f.repo.Get(context.Background(), "pref", job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusDone, got.Status)
	assert.Nil(t, got.NextFireAt)
}

func TestClaimYieldsEachFireOnce(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, f.clock.Now(), nil)

	first, err := f.repo.ClaimDue(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := f.repo.ClaimDue(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestCancelPendingDeletesAttachments(t *testing.T) {
	f := newFixture(t)
	job := f.schedule(t, f.clock.Now().Add(time.Hour), nil)
	a, err := f.store.Save(job.ID.String(), "notice.pdf", strings.NewReader("pdf"))
	require.NoError(t, err)

	got, err := f.svc.Cancel(context.Background(), "pref", f.operator.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, sdomain.StatusCancelled, got.Status)

	_, statErr := os.Stat(a.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCancelRunningRejected(t *testing.T) {
	f := newFixture(t)
	job := f.schedule(t, f.clock.Now(), nil)

	claimed, err := f.repo.ClaimDue(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = f.svc.Cancel(context.Background(), "pref", f.operator.ID, job.ID)
	assert.ErrorIs(t, err, sdomain.ErrAlreadyRunning)
}

func TestCancelFinishedRejected(t *testing.T) {
	f := newFixture(t)
	job := f.schedule(t, f.clock.Now(), nil)
	require.NoError(t, f.svc.Tick(context.Background()))

	_, err := f.svc.Cancel(context.Background(), "pref", f.operator.ID, job.ID)
	assert.ErrorIs(t, err, sdomain.ErrNotCancellable)
}

func TestCancelIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	job := f.schedule(t, f.clock.Now().Add(time.Hour), nil)

	_, err := f.svc.Cancel(context.Background(), "other", f.operator.ID, job.ID)
	assert.ErrorIs(t, err, sdomain.ErrNotFound)
}

func TestScheduleRejectsEmptyTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Schedule(context.Background(), f.operator, ScheduleInput{
		Subject:     "Hi",
		Target:      ddomain.TargetSpec{},
		ScheduledAt: f.clock.Now(),
	})
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestRequeueStaleAtStartup(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, f.clock.Now(), nil)

	claimed, err := f.repo.ClaimDue(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := f.repo.RequeueStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The interrupted fire is claimable again.
	again, err := f.repo.ClaimDue(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}
