package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/civimail/civimail/internal/directory/domain"
)

type SQLiteRepository struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ domain.Repository = (*SQLiteRepository)(nil)

func (r *SQLiteRepository) UpsertEmployee(ctx context.Context, e domain.Employee) (domain.Employee, error) {
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	if e.ID == 0 {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO employees (tenant_key, email, name, department, phone, active)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.TenantKey, e.Email, e.Name, e.Department, e.Phone, boolInt(e.Active))
		if err != nil {
			return domain.Employee{}, fmt.Errorf("insert employee: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Employee{}, err
		}
		e.ID = id
		return e, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE employees SET email = ?, name = ?, department = ?, phone = ?, active = ?
		 WHERE id = ? AND tenant_key = ?`,
		e.Email, e.Name, e.Department, e.Phone, boolInt(e.Active), e.ID, e.TenantKey)
	if err != nil {
		return domain.Employee{}, fmt.Errorf("update employee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Employee{}, domain.ErrNotFound
	}
	return e, nil
}

func (r *SQLiteRepository) ListEmployees(ctx context.Context, tenantKey string, f domain.EmployeeFilter) ([]domain.Employee, error) {
	q := `SELECT id, tenant_key, email, name, department, phone, active FROM employees WHERE tenant_key = ?`
	args := []any{tenantKey}
	if f.Department != "" {
		q += ` AND department = ?`
		args = append(args, f.Department)
	}
	if f.Active == 0 || f.Active == 1 {
		q += ` AND active = ?`
		args = append(args, f.Active)
	}
	if f.Query != "" {
		q += ` AND (name LIKE ? OR email LIKE ?)`
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	q += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()
	return scanEmployees(rows)
}

func (r *SQLiteRepository) DeactivateEmployee(ctx context.Context, tenantKey string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE employees SET active = 0 WHERE id = ? AND tenant_key = ?`, id, tenantKey)
	if err != nil {
		return fmt.Errorf("deactivate employee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetEmployee(ctx context.Context, id int64) (domain.Employee, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_key, email, name, department, phone, active FROM employees WHERE id = ?`, id)
	return scanEmployee(row)
}

func (r *SQLiteRepository) UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	if g.ID == 0 {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO groups (tenant_key, name) VALUES (?, ?)`, g.TenantKey, g.Name)
		if err != nil {
			return domain.Group{}, fmt.Errorf("insert group: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Group{}, err
		}
		g.ID = id
		return g, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE groups SET name = ? WHERE id = ? AND tenant_key = ?`, g.Name, g.ID, g.TenantKey)
	if err != nil {
		return domain.Group{}, fmt.Errorf("update group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Group{}, domain.ErrNotFound
	}
	return g, nil
}

// SetGroupMembers replaces the member set. Every employee must belong to
// the group's tenant; a mismatch fails the whole call.
func (r *SQLiteRepository) SetGroupMembers(ctx context.Context, tenantKey string, groupID int64, employeeIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set members: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM groups WHERE id = ? AND tenant_key = ?`, groupID, tenantKey).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrNotFound
	}

	for _, eid := range employeeIDs {
		var tk string
		err := tx.QueryRowContext(ctx, `SELECT tenant_key FROM employees WHERE id = ?`, eid).Scan(&tk)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("employee %d: %w", eid, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if tk != tenantKey {
			return fmt.Errorf("employee %d: %w", eid, domain.ErrWrongTenant)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	for _, eid := range employeeIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, employee_id) VALUES (?, ?)`, groupID, eid); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListGroups(ctx context.Context, tenantKey string) ([]domain.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_key, name FROM groups WHERE tenant_key = ? ORDER BY id`, tenantKey)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.TenantKey, &g.Name); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		ids, err := r.memberIDs(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].MemberIDs = ids
	}
	return groups, nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id int64) (domain.Group, error) {
	var g domain.Group
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_key, name FROM groups WHERE id = ?`, id).Scan(&g.ID, &g.TenantKey, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Group{}, err
	}
	g.MemberIDs, err = r.memberIDs(ctx, g.ID)
	return g, err
}

// GroupMembers returns member employees in employee-id order.
func (r *SQLiteRepository) GroupMembers(ctx context.Context, groupID int64) ([]domain.Employee, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.tenant_key, e.email, e.name, e.department, e.phone, e.active
		 FROM group_members gm JOIN employees e ON e.id = gm.employee_id
		 WHERE gm.group_id = ? ORDER BY e.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()
	return scanEmployees(rows)
}

func (r *SQLiteRepository) memberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT employee_id FROM group_members WHERE group_id = ? ORDER BY employee_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEmployee(row rowScanner) (domain.Employee, error) {
	var e domain.Employee
	var active int
	err := row.Scan(&e.ID, &e.TenantKey, &e.Email, &e.Name, &e.Department, &e.Phone, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Employee{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Employee{}, err
	}
	e.Active = active != 0
	return e, nil
}

func scanEmployees(rows *sql.Rows) ([]domain.Employee, error) {
	var out []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
