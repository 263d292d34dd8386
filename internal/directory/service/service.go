package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	domain "github.com/civimail/civimail/internal/directory/domain"
)

type service struct {
	repo  domain.Repository
	audit adomain.Service
}

func New(repo domain.Repository, audit adomain.Service) domain.Service {
	return &service{repo: repo, audit: audit}
}

func (s *service) UpsertEmployee(ctx context.Context, tenantKey, userID string, e domain.Employee) (domain.Employee, error) {
	e.TenantKey = tenantKey
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	if e.Email == "" || e.Name == "" {
		return domain.Employee{}, errors.New("employee email and name are required")
	}
	if _, err := mail.ParseAddress(e.Email); err != nil {
		return domain.Employee{}, fmt.Errorf("invalid employee email %q", e.Email)
	}
	out, err := s.repo.UpsertEmployee(ctx, e)
	if err != nil {
		return domain.Employee{}, err
	}
	s.append(ctx, tenantKey, userID, adomain.ActionEmployeeUpserted,
		fmt.Sprintf("employee %d (%s)", out.ID, out.Email))
	return out, nil
}

func (s *service) ListEmployees(ctx context.Context, tenantKey string, f domain.EmployeeFilter) ([]domain.Employee, error) {
	if f.Active != 0 && f.Active != 1 {
		f.Active = -1
	}
	return s.repo.ListEmployees(ctx, tenantKey, f)
}

func (s *service) DeactivateEmployee(ctx context.Context, tenantKey, userID string, id int64) error {
	if err := s.repo.DeactivateEmployee(ctx, tenantKey, id); err != nil {
		return err
	}
	s.append(ctx, tenantKey, userID, adomain.ActionEmployeeDeactived, fmt.Sprintf("employee %d", id))
	return nil
}

func (s *service) UpsertGroup(ctx context.Context, tenantKey, userID string, g domain.Group) (domain.Group, error) {
	g.TenantKey = tenantKey
	if strings.TrimSpace(g.Name) == "" {
		return domain.Group{}, errors.New("group name is required")
	}
	out, err := s.repo.UpsertGroup(ctx, g)
	if err != nil {
		return domain.Group{}, err
	}
	s.append(ctx, tenantKey, userID, adomain.ActionGroupUpserted,
		fmt.Sprintf("group %d (%s)", out.ID, out.Name))
	return out, nil
}

func (s *service) SetGroupMembers(ctx context.Context, tenantKey, userID string, groupID int64, employeeIDs []int64) error {
	if err := s.repo.SetGroupMembers(ctx, tenantKey, groupID, employeeIDs); err != nil {
		return err
	}
	s.append(ctx, tenantKey, userID, adomain.ActionGroupMembersSet,
		fmt.Sprintf("group %d now has %d members", groupID, len(employeeIDs)))
	return nil
}

func (s *service) ListGroups(ctx context.Context, tenantKey string) ([]domain.Group, error) {
	return s.repo.ListGroups(ctx, tenantKey)
}

func (s *service) append(ctx context.Context, tenantKey, userID, action, desc string) {
	var uid *uuid.UUID
	if id, err := uuid.Parse(userID); err == nil {
		uid = &id
	}
	_ = s.audit.Append(ctx, tenantKey, uid, action, desc)
}
