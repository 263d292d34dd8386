package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	domain "github.com/civimail/civimail/internal/templates/domain"
)

type service struct {
	repo  domain.Repository
	audit adomain.Service
}

func New(repo domain.Repository, audit adomain.Service) domain.Service {
	return &service{repo: repo, audit: audit}
}

func (s *service) Upsert(ctx context.Context, tenantKey, userID string, t domain.Template) (domain.Template, error) {
	t.TenantKey = tenantKey
	if strings.TrimSpace(t.Name) == "" {
		return domain.Template{}, errors.New("template name is required")
	}
	if strings.TrimSpace(t.SubjectTemplate) == "" {
		return domain.Template{}, errors.New("subject template is required")
	}
	out, err := s.repo.Upsert(ctx, t)
	if err != nil {
		return domain.Template{}, err
	}
	var uid *uuid.UUID
	if id, err := uuid.Parse(userID); err == nil {
		uid = &id
	}
	_ = s.audit.Append(ctx, tenantKey, uid, adomain.ActionTemplateUpserted,
		fmt.Sprintf("template %d (%s)", out.ID, out.Name))
	return out, nil
}

func (s *service) List(ctx context.Context, tenantKey, department string) ([]domain.Template, error) {
	return s.repo.List(ctx, tenantKey, department)
}

func (s *service) Get(ctx context.Context, tenantKey string, id int64) (domain.Template, error) {
	return s.repo.Get(ctx, tenantKey, id)
}
