package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	"github.com/civimail/civimail/internal/db"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))
	return New(database)
}

func sentMessage(tenant string, at time.Time) ddomain.SentMessage {
	userID := uuid.New()
	return ddomain.SentMessage{
		ID:          uuid.New(),
		TenantKey:   tenant,
		UserID:      &userID,
		Subject:     "Hi Ana",
		BodyPreview: "<p>Dear Ana</p>",
		Status:      ddomain.StatusPartial,
		Outcomes: []ddomain.RecipientOutcome{
			{Email: "ana@x.example", Kind: ddomain.OutcomeDelivered},
			{Email: "bob@x.example", Kind: ddomain.OutcomeRejected, Code: 550, Detail: "no such user"},
		},
		Diagnostics: ddomain.Diagnostics{EmptyFields: []string{"first_name"}},
		SentAt:      at,
	}
}

func TestInsertSentMessageRoundtrip(t *testing.T) {
	r := newRepo(t)
	m := sentMessage("pref", time.Date(2025, time.February, 3, 10, 0, 0, 0, time.UTC))

	require.NoError(t, r.InsertSentMessage(context.Background(), m))

	got, err := r.GetSentMessage(context.Background(), "pref", m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Subject, got.Subject)
	assert.Equal(t, ddomain.StatusPartial, got.Status)
	assert.Equal(t, []string{"first_name"}, got.Diagnostics.EmptyFields)

	// Per-recipient outcomes come back in submission order.
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, "ana@x.example", got.Outcomes[0].Email)
	assert.Equal(t, ddomain.OutcomeDelivered, got.Outcomes[0].Kind)
	assert.Equal(t, 550, got.Outcomes[1].Code)
}

func TestInsertSentMessageIsAppendOnly(t *testing.T) {
	r := newRepo(t)
	m := sentMessage("pref", time.Now())
	require.NoError(t, r.InsertSentMessage(context.Background(), m))

	// A second insert under the same id must fail rather than overwrite.
	m.Subject = "tampered"
	assert.Error(t, r.InsertSentMessage(context.Background(), m))

	got, err := r.GetSentMessage(context.Background(), "pref", m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana", got.Subject)
}

func TestGetSentMessageIsTenantScoped(t *testing.T) {
	r := newRepo(t)
	m := sentMessage("pref", time.Now())
	require.NoError(t, r.InsertSentMessage(context.Background(), m))

	_, err := r.GetSentMessage(context.Background(), "other", m.ID)
	assert.ErrorIs(t, err, adomain.ErrNotFound)
}

func TestListSentFilters(t *testing.T) {
	r := newRepo(t)
	early := sentMessage("pref", time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	late := sentMessage("pref", time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC))
	foreign := sentMessage("other", time.Date(2025, time.March, 2, 9, 0, 0, 0, time.UTC))
	for _, m := range []ddomain.SentMessage{early, late, foreign} {
		require.NoError(t, r.InsertSentMessage(context.Background(), m))
	}

	all, err := r.ListSent(context.Background(), "pref", adomain.SentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, late.ID, all[0].ID, "newest first")

	from := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	recent, err := r.ListSent(context.Background(), "pref", adomain.SentFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, late.ID, recent[0].ID)

	byUser, err := r.ListSent(context.Background(), "pref", adomain.SentFilter{UserID: early.UserID})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, early.ID, byUser[0].ID)
}

func TestAppendAndListLogs(t *testing.T) {
	r := newRepo(t)
	userID := uuid.New()
	entries := []adomain.LogEntry{
		{TenantKey: "pref", UserID: &userID, Action: adomain.ActionSend, Description: "dispatched", TS: time.Now()},
		{TenantKey: "pref", Action: adomain.ActionJobFired, Description: "job fired", TS: time.Now()},
		{TenantKey: "other", Action: adomain.ActionSend, Description: "foreign", TS: time.Now()},
	}
	for _, e := range entries {
		require.NoError(t, r.AppendLog(context.Background(), e))
	}

	all, err := r.ListLogs(context.Background(), "pref", adomain.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, adomain.ActionJobFired, all[0].Action, "newest first")

	sends, err := r.ListLogs(context.Background(), "pref", adomain.LogFilter{Action: adomain.ActionSend})
	require.NoError(t, err)
	require.Len(t, sends, 1)
	require.NotNil(t, sends[0].UserID)
	assert.Equal(t, userID, *sends[0].UserID)
}
