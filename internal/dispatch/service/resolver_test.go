package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dirdomain "github.com/civimail/civimail/internal/directory/domain"
	domain "github.com/civimail/civimail/internal/dispatch/domain"
)

// stubDirectory is a hand mock over fixed employees and groups.
type stubDirectory struct {
	dirdomain.Repository

	employees map[int64]dirdomain.Employee
	groups    map[int64]dirdomain.Group
}

func (s *stubDirectory) GetEmployee(_ context.Context, id int64) (dirdomain.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return dirdomain.Employee{}, dirdomain.ErrNotFound
	}
	return e, nil
}

func (s *stubDirectory) GetGroup(_ context.Context, id int64) (dirdomain.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return dirdomain.Group{}, dirdomain.ErrNotFound
	}
	return g, nil
}

func (s *stubDirectory) GroupMembers(_ context.Context, groupID int64) ([]dirdomain.Employee, error) {
	g, err := s.GetGroup(context.Background(), groupID)
	if err != nil {
		return nil, err
	}
	var out []dirdomain.Employee
	for _, id := range g.MemberIDs {
		out = append(out, s.employees[id])
	}
	return out, nil
}

func testDirectory() *stubDirectory {
	return &stubDirectory{
		employees: map[int64]dirdomain.Employee{
			1: {ID: 1, TenantKey: "pref", Email: "ana@x.example", Name: "Ana", Active: true},
			2: {ID: 2, TenantKey: "pref", Email: "bob@x.example", Name: "Bob", Active: false},
			3: {ID: 3, TenantKey: "other", Email: "eve@y.example", Name: "Eve", Active: true},
			4: {ID: 4, TenantKey: "pref", Email: "ANA@X.example", Name: "Ana dup", Active: true},
		},
		groups: map[int64]dirdomain.Group{
			10: {ID: 10, TenantKey: "pref", Name: "staff", MemberIDs: []int64{1, 2}},
			11: {ID: 11, TenantKey: "other", Name: "foreign", MemberIDs: []int64{3}},
		},
	}
}

func TestResolveGroupSkipsInactiveMember(t *testing.T) {
	r := NewResolver(testDirectory())

	res, err := r.Resolve(context.Background(), "pref", domain.TargetSpec{GroupIDs: []int64{10}})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Equal(t, "ana@x.example", res.Recipients[0].Email)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectInactive, res.Rejected[0].Reason)
	assert.Equal(t, "employee:2", res.Rejected[0].Ref)
}

func TestResolveDedupesByLowercasedEmail(t *testing.T) {
	r := NewResolver(testDirectory())

	res, err := r.Resolve(context.Background(), "pref", domain.TargetSpec{
		Explicit:    []string{"Ana@x.example"},
		EmployeeIDs: []int64{1, 4},
	})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Equal(t, "ana@x.example", res.Recipients[0].Email)
}

func TestResolveTenantIsolation(t *testing.T) {
	r := NewResolver(testDirectory())

	res, err := r.Resolve(context.Background(), "pref", domain.TargetSpec{
		EmployeeIDs: []int64{1, 3},
		GroupIDs:    []int64{11},
	})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Equal(t, "ana@x.example", res.Recipients[0].Email)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, domain.RejectWrongTenant, res.Rejected[0].Reason)
	assert.Equal(t, domain.RejectWrongTenant, res.Rejected[1].Reason)
}

func TestResolveInvalidSyntaxAndUnknownID(t *testing.T) {
	r := NewResolver(testDirectory())

	res, err := r.Resolve(context.Background(), "pref", domain.TargetSpec{
		Explicit:    []string{"not-an-address", "ok@mail.example"},
		EmployeeIDs: []int64{99},
	})
	require.NoError(t, err)

	require.Len(t, res.Recipients, 1)
	assert.Equal(t, "ok@mail.example", res.Recipients[0].Email)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, domain.RejectInvalidSyntax, res.Rejected[0].Reason)
	assert.Equal(t, domain.RejectUnknownID, res.Rejected[1].Reason)
}

func TestResolveOrderingExplicitThenEmployeesThenGroups(t *testing.T) {
	r := NewResolver(testDirectory())

	res, err := r.Resolve(context.Background(), "pref", domain.TargetSpec{
		Explicit:    []string{"zz@mail.example"},
		EmployeeIDs: []int64{4},
		GroupIDs:    []int64{10},
	})
	require.NoError(t, err)

	var emails []string
	for _, rec := range res.Recipients {
		emails = append(emails, rec.Email)
	}
	assert.Equal(t, []string{"zz@mail.example", "ana@x.example"}, emails)
}

func TestResolveEmptyResultIsNoRecipients(t *testing.T) {
	r := NewResolver(testDirectory())

	_, err := r.Resolve(context.Background(), "pref", domain.TargetSpec{})
	assert.ErrorIs(t, err, domain.ErrNoRecipients)

	_, err = r.Resolve(context.Background(), "pref", domain.TargetSpec{EmployeeIDs: []int64{2}})
	assert.ErrorIs(t, err, domain.ErrNoRecipients)
}
