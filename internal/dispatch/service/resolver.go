package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	ddomain "github.com/civimail/civimail/internal/directory/domain"
	domain "github.com/civimail/civimail/internal/dispatch/domain"
)

// Conservative address check: local part, one @, dotted domain. The SMTP
// server stays the final authority.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Resolver expands a target spec into a deduplicated, validated recipient
// list with per-entry diagnostics for everything it drops.
type Resolver struct {
	dir ddomain.Repository
}

func NewResolver(dir ddomain.Repository) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve produces the final ordered list: explicit addresses first, then
// employees in id order, then group members. Duplicates (by lowercased
// email) keep their first occurrence. An empty result is ErrNoRecipients.
func (r *Resolver) Resolve(ctx context.Context, tenantKey string, spec domain.TargetSpec) (domain.Resolution, error) {
	res := domain.Resolution{}
	seen := map[string]bool{}

	add := func(rec domain.Recipient) {
		key := strings.ToLower(rec.Email)
		if seen[key] {
			return
		}
		seen[key] = true
		rec.Email = key
		res.Recipients = append(res.Recipients, rec)
	}
	reject := func(ref string, reason domain.RejectReason) {
		res.Rejected = append(res.Rejected, domain.Rejection{Ref: ref, Reason: reason})
	}

	for _, addr := range spec.Explicit {
		addr = strings.TrimSpace(addr)
		if !emailRe.MatchString(addr) {
			reject(addr, domain.RejectInvalidSyntax)
			continue
		}
		add(domain.Recipient{Email: addr})
	}

	for _, id := range spec.EmployeeIDs {
		e, err := r.dir.GetEmployee(ctx, id)
		if errors.Is(err, ddomain.ErrNotFound) {
			reject(fmt.Sprintf("employee:%d", id), domain.RejectUnknownID)
			continue
		}
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("resolve employee %d: %w", id, err)
		}
		if rec, reason := r.screen(e, tenantKey); reason == "" {
			add(rec)
		} else {
			reject(fmt.Sprintf("employee:%d", id), reason)
		}
	}

	for _, id := range spec.GroupIDs {
		g, err := r.dir.GetGroup(ctx, id)
		if errors.Is(err, ddomain.ErrNotFound) {
			reject(fmt.Sprintf("group:%d", id), domain.RejectUnknownID)
			continue
		}
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("resolve group %d: %w", id, err)
		}
		if g.TenantKey != tenantKey {
			reject(fmt.Sprintf("group:%d", id), domain.RejectWrongTenant)
			continue
		}
		members, err := r.dir.GroupMembers(ctx, id)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("resolve group %d members: %w", id, err)
		}
		for _, e := range members {
			if rec, reason := r.screen(e, tenantKey); reason == "" {
				add(rec)
			} else {
				reject(fmt.Sprintf("employee:%d", e.ID), reason)
			}
		}
	}

	if len(res.Recipients) == 0 {
		return res, domain.ErrNoRecipients
	}
	return res, nil
}

func (r *Resolver) screen(e ddomain.Employee, tenantKey string) (domain.Recipient, domain.RejectReason) {
	if e.TenantKey != tenantKey {
		return domain.Recipient{}, domain.RejectWrongTenant
	}
	if !e.Active {
		return domain.Recipient{}, domain.RejectInactive
	}
	if !emailRe.MatchString(e.Email) {
		return domain.Recipient{}, domain.RejectInvalidSyntax
	}
	return domain.Recipient{
		Email:      e.Email,
		Name:       e.Name,
		Department: e.Department,
		Phone:      e.Phone,
	}, ""
}
