package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	"github.com/civimail/civimail/internal/db"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
)

type SQLiteRepository struct {
	db *sql.DB
}

func New(database *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: database}
}

var _ adomain.Repository = (*SQLiteRepository)(nil)

// InsertSentMessage appends one dispatch record with its per-recipient
// outcomes. Rows are never updated afterwards.
func (r *SQLiteRepository) InsertSentMessage(ctx context.Context, m ddomain.SentMessage) error {
	diag, err := json.Marshal(m.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert sent: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sent_messages (id, tenant_key, user_id, job_id, subject, body_preview, status, diagnostics, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.TenantKey, uuidPtr(m.UserID), uuidPtr(m.JobID),
		m.Subject, m.BodyPreview, string(m.Status), string(diag), db.FormatTime(m.SentAt))
	if err != nil {
		return fmt.Errorf("insert sent message: %w", err)
	}
	for i, o := range m.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sent_recipients (message_id, position, email, outcome, smtp_code, detail)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID.String(), i, o.Email, string(o.Kind), o.Code, o.Detail)
		if err != nil {
			return fmt.Errorf("insert sent recipient: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListSent(ctx context.Context, tenantKey string, f adomain.SentFilter) ([]ddomain.SentMessage, error) {
	q := `SELECT id, tenant_key, user_id, job_id, subject, body_preview, status, diagnostics, sent_at
	      FROM sent_messages WHERE tenant_key = ?`
	args := []any{tenantKey}
	if f.UserID != nil {
		q += ` AND user_id = ?`
		args = append(args, f.UserID.String())
	}
	if f.From != nil {
		q += ` AND sent_at >= ?`
		args = append(args, db.FormatTime(*f.From))
	}
	if f.To != nil {
		q += ` AND sent_at < ?`
		args = append(args, db.FormatTime(*f.To))
	}
	q += ` ORDER BY sent_at DESC`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	defer rows.Close()

	var out []ddomain.SentMessage
	for rows.Next() {
		m, err := scanSent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		outcomes, err := r.outcomes(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Outcomes = outcomes
	}
	return out, nil
}

func (r *SQLiteRepository) GetSentMessage(ctx context.Context, tenantKey string, id uuid.UUID) (ddomain.SentMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_key, user_id, job_id, subject, body_preview, status, diagnostics, sent_at
		 FROM sent_messages WHERE id = ? AND tenant_key = ?`, id.String(), tenantKey)
	m, err := scanSent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ddomain.SentMessage{}, fmt.Errorf("sent message %s: %w", id, adomain.ErrNotFound)
	}
	if err != nil {
		return ddomain.SentMessage{}, err
	}
	m.Outcomes, err = r.outcomes(ctx, m.ID)
	return m, err
}

func (r *SQLiteRepository) AppendLog(ctx context.Context, e adomain.LogEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO logs (tenant_key, user_id, action, description, ts) VALUES (?, ?, ?, ?, ?)`,
		e.TenantKey, uuidPtr(e.UserID), e.Action, e.Description, db.FormatTime(e.TS))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListLogs(ctx context.Context, tenantKey string, f adomain.LogFilter) ([]adomain.LogEntry, error) {
	q := `SELECT id, tenant_key, user_id, action, description, ts FROM logs WHERE tenant_key = ?`
	args := []any{tenantKey}
	if f.Action != "" {
		q += ` AND action = ?`
		args = append(args, f.Action)
	}
	q += ` ORDER BY id DESC`
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []adomain.LogEntry
	for rows.Next() {
		var e adomain.LogEntry
		var userID sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.TenantKey, &userID, &e.Action, &e.Description, &ts); err != nil {
			return nil, err
		}
		if userID.Valid {
			id, err := uuid.Parse(userID.String)
			if err == nil {
				e.UserID = &id
			}
		}
		e.TS, err = db.ParseTime(ts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) outcomes(ctx context.Context, messageID uuid.UUID) ([]ddomain.RecipientOutcome, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email, outcome, smtp_code, detail FROM sent_recipients
		 WHERE message_id = ? ORDER BY position`, messageID.String())
	if err != nil {
		return nil, fmt.Errorf("sent recipients: %w", err)
	}
	defer rows.Close()

	var out []ddomain.RecipientOutcome
	for rows.Next() {
		var o ddomain.RecipientOutcome
		var kind string
		if err := rows.Scan(&o.Email, &kind, &o.Code, &o.Detail); err != nil {
			return nil, err
		}
		o.Kind = ddomain.OutcomeKind(kind)
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSent(row rowScanner) (ddomain.SentMessage, error) {
	var m ddomain.SentMessage
	var id, status, diag, sentAt string
	var userID, jobID sql.NullString
	if err := row.Scan(&id, &m.TenantKey, &userID, &jobID, &m.Subject, &m.BodyPreview, &status, &diag, &sentAt); err != nil {
		return ddomain.SentMessage{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ddomain.SentMessage{}, err
	}
	m.ID = parsed
	m.Status = ddomain.Status(status)
	if userID.Valid {
		if u, err := uuid.Parse(userID.String); err == nil {
			m.UserID = &u
		}
	}
	if jobID.Valid {
		if j, err := uuid.Parse(jobID.String); err == nil {
			m.JobID = &j
		}
	}
	if err := json.Unmarshal([]byte(diag), &m.Diagnostics); err != nil {
		return ddomain.SentMessage{}, fmt.Errorf("decode diagnostics: %w", err)
	}
	m.SentAt, err = db.ParseTime(sentAt)
	return m, err
}

func uuidPtr(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}
