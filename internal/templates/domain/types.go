package domain

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("template not found")

// Template is a reusable subject/body pair with {field} placeholders.
// Placeholders that do not resolve against recipient or signature fields
// expand to the empty string at render time; templates are not validated
// against a field list on save.
type Template struct {
	ID              int64     `json:"id"`
	TenantKey       string    `json:"tenant_key"`
	Name            string    `json:"name"`
	SubjectTemplate string    `json:"subject_template"`
	BodyTemplate    string    `json:"body_template"`
	Department      string    `json:"department,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Repository interface {
	Upsert(ctx context.Context, t Template) (Template, error)
	List(ctx context.Context, tenantKey, department string) ([]Template, error)
	Get(ctx context.Context, tenantKey string, id int64) (Template, error)
}

type Service interface {
	Upsert(ctx context.Context, tenantKey, userID string, t Template) (Template, error)
	List(ctx context.Context, tenantKey, department string) ([]Template, error)
	Get(ctx context.Context, tenantKey string, id int64) (Template, error)
}
