package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/civimail/civimail/internal/config"
)

const (
	filePrefix  = "civimail-"
	fileSuffix  = ".db"
	keepBackups = 5
)

// Runner takes periodic database backups with VACUUM INTO, which produces
// a consistent compacted copy without blocking readers for the full
// duration. Old backups are pruned so at most the newest five remain.
type Runner struct {
	db     *sql.DB
	dir    string
	policy config.Backup
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

func New(db *sql.DB, dir string, policy config.Backup, loc *time.Location, log zerolog.Logger) *Runner {
	return &Runner{db: db, dir: dir, policy: policy, loc: loc, log: log, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Run sleeps until each scheduled backup time and takes one. It returns
// immediately when the policy disables automatic backups.
func (r *Runner) Run(ctx context.Context) {
	if !r.policy.Automatic || r.policy.Interval == "none" {
		return
	}
	for {
		next := r.nextRun(r.now())
		t := time.NewTimer(next.Sub(r.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		path, err := r.BackupNow(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("backup failed")
			continue
		}
		r.log.Info().Str("path", path).Msg("backup written")
		if err := r.prune(); err != nil {
			r.log.Warn().Err(err).Msg("backup prune failed")
		}
	}
}

// BackupNow writes one timestamped backup file and returns its path.
func (r *Runner) BackupNow(ctx context.Context) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := filePrefix + r.now().In(r.loc).Format("20060102-150405") + fileSuffix
	path := filepath.Join(r.dir, name)
	if _, err := r.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

// nextRun is the next scheduled backup after now: daily at the configured
// hour, or weekly on Sunday at that hour.
func (r *Runner) nextRun(now time.Time) time.Time {
	t := now.In(r.loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), r.policy.Hour, 0, 0, 0, r.loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	if r.policy.Interval == "weekly" {
		for next.Weekday() != time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}

func (r *Runner) prune() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for len(names) > keepBackups {
		if err := os.Remove(filepath.Join(r.dir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}
