package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrWrongTenant = errors.New("entity belongs to another tenant")
)

// Employee is one addressable person of a tenant. Inactive employees are
// never expanded into recipient lists.
type Employee struct {
	ID         int64  `json:"id"`
	TenantKey  string `json:"tenant_key"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Active     bool   `json:"active"`
}

// Group is a named set of employees of one tenant.
type Group struct {
	ID        int64   `json:"id"`
	TenantKey string  `json:"tenant_key"`
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"member_ids"`
}

// EmployeeFilter narrows employee listings.
type EmployeeFilter struct {
	Department string
	// Active: -1 any, 1 active only, 0 inactive only.
	Active int
	Query  string
}

// Repository abstracts persistence for employees and groups. Tenant-scoped
// methods enforce tenant_key in their queries; the unscoped getters exist
// for the recipient resolver, which reports tenant mismatches itself.
type Repository interface {
	UpsertEmployee(ctx context.Context, e Employee) (Employee, error)
	ListEmployees(ctx context.Context, tenantKey string, f EmployeeFilter) ([]Employee, error)
	DeactivateEmployee(ctx context.Context, tenantKey string, id int64) error
	GetEmployee(ctx context.Context, id int64) (Employee, error)

	UpsertGroup(ctx context.Context, g Group) (Group, error)
	SetGroupMembers(ctx context.Context, tenantKey string, groupID int64, employeeIDs []int64) error
	ListGroups(ctx context.Context, tenantKey string) ([]Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]Employee, error)
}

// Service encapsulates the operator-facing directory operations.
type Service interface {
	UpsertEmployee(ctx context.Context, tenantKey string, userID string, e Employee) (Employee, error)
	ListEmployees(ctx context.Context, tenantKey string, f EmployeeFilter) ([]Employee, error)
	DeactivateEmployee(ctx context.Context, tenantKey string, userID string, id int64) error

	UpsertGroup(ctx context.Context, tenantKey string, userID string, g Group) (Group, error)
	SetGroupMembers(ctx context.Context, tenantKey string, userID string, groupID int64, employeeIDs []int64) error
	ListGroups(ctx context.Context, tenantKey string) ([]Group, error)
}
