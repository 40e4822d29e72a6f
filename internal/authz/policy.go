package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/qmsforge/riskflow/internal/application/port"
)

// Policy is the configurable part of the role table
type Policy struct {
	// SubmitterRoles may submit risks for review; empty means any authenticated role
	SubmitterRoles []string
	ApproverRoles  []string
	// RequiredApproverRole is the role whose queue new submissions land in
	RequiredApproverRole string
	// SupervisoryRoles see every pending risk regardless of the required role
	SupervisoryRoles []string
	// AdminRoles hold every permission
	AdminRoles []string
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		ApproverRoles: []string{
			string(RoleQualityEngineer),
			string(RoleQualityManager),
			string(RoleManagement),
			string(RoleRegulatoryAffairs),
			string(RoleCMO),
		},
		RequiredApproverRole: string(RoleQualityEngineer),
		SupervisoryRoles:     []string{string(RoleManagement), string(RoleQualityManager)},
		AdminRoles:           []string{string(RoleAdmin)},
	}
}

// RoleDef describes a role known to the table
type RoleDef struct {
	Name        Role
	Label       string
	Permissions []string
}

type roleSet map[Role]struct{}

func (s roleSet) has(r Role) bool {
	_, ok := s[r]
	return ok
}

func (s roleSet) add(names ...string) {
	for _, n := range names {
		if r := NormalizeRole(n); r != "" {
			s[r] = struct{}{}
		}
	}
}

func (s roleSet) sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table resolves role names and answers authorization questions.
// It is safe for concurrent use.
type Table struct {
	mu               sync.RWMutex
	roles            map[Role]RoleDef
	aliases          map[Role]Role
	submitters       roleSet
	approvers        roleSet
	supervisors      roleSet
	admins           roleSet
	requiredApprover Role
}

// NewTable builds a table from the builtin roles and policy
func NewTable(p Policy) (*Table, error) {
	t := &Table{
		roles:       make(map[Role]RoleDef, len(roleLabels)),
		aliases:     make(map[Role]Role),
		submitters:  roleSet{},
		approvers:   roleSet{},
		supervisors: roleSet{},
		admins:      roleSet{},
	}
	for r, label := range roleLabels {
		t.roles[r] = RoleDef{Name: r, Label: label}
	}
	t.roles[RoleQualityManager] = RoleDef{
		Name:        RoleQualityManager,
		Label:       roleLabels[RoleQualityManager],
		Permissions: []string{PermAuditExport, PermAuditBackup},
	}
	t.roles[RoleRegulatoryAffairs] = RoleDef{
		Name:        RoleRegulatoryAffairs,
		Label:       roleLabels[RoleRegulatoryAffairs],
		Permissions: []string{PermAuditExport},
	}

	t.submitters.add(p.SubmitterRoles...)
	t.approvers.add(p.ApproverRoles...)
	t.supervisors.add(p.SupervisoryRoles...)
	t.admins.add(p.AdminRoles...)

	if len(t.approvers) == 0 {
		return nil, fmt.Errorf("at least one approver role is required")
	}
	t.requiredApprover = NormalizeRole(p.RequiredApproverRole)
	if t.requiredApprover == "" {
		t.requiredApprover = RoleQualityEngineer
	}
	if !t.approvers.has(t.requiredApprover) {
		return nil, fmt.Errorf("required approver role %q is not an approver role", t.requiredApprover)
	}

	return t, nil
}

// MustNewTable is NewTable for policies known to be valid
func MustNewTable(p Policy) *Table {
	t, err := NewTable(p)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve maps a role name or alias onto a role. The second result reports
// whether the role is known to the table.
func (t *Table) Resolve(name string) (Role, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolve(name)
}

func (t *Table) resolve(name string) (Role, bool) {
	r := NormalizeRole(name)
	if target, ok := t.aliases[r]; ok {
		r = target
	}
	_, ok := t.roles[r]
	return r, ok
}

// Label returns the display label for a role name
func (t *Table) Label(name string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.resolve(name)
	if ok && t.roles[r].Label != "" {
		return t.roles[r].Label
	}
	return string(r)
}

// CanSubmit reports whether the actor may submit a risk for review
func (t *Table) CanSubmit(actor port.Actor) bool {
	if !actor.IsAuthenticated() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.submitters) == 0 {
		return true
	}
	r, _ := t.resolve(actor.Role)
	return t.submitters.has(r)
}

// CanApprove reports whether role may sign review decisions, returning the
// resolved role
func (t *Table) CanApprove(role string) (Role, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, _ := t.resolve(role)
	return r, t.approvers.has(r)
}

// RequiredApprover returns the role whose queue receives new submissions
func (t *Table) RequiredApprover() Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.requiredApprover
}

// SeesPending reports whether role should see a risk waiting on required
func (t *Table) SeesPending(role string, required Role) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, _ := t.resolve(role)
	return r == required || t.supervisors.has(r) || t.admins.has(r)
}

// Allows reports whether the actor holds permission, directly, through its
// role definition, or by being an admin
func (t *Table) Allows(actor port.Actor, permission string) bool {
	if !actor.IsAuthenticated() {
		return false
	}
	if actor.HasPermission(permission) {
		return true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.resolve(actor.Role)
	if t.admins.has(r) {
		return true
	}
	if !ok {
		return false
	}
	for _, p := range t.roles[r].Permissions {
		if strings.EqualFold(p, permission) {
			return true
		}
	}
	return false
}

// ApproverRoles returns the approver roles, sorted
func (t *Table) ApproverRoles() []Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.approvers.sorted()
}

// Roles returns every known role definition, sorted by name
func (t *Table) Roles() []RoleDef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RoleDef, 0, len(t.roles))
	for _, def := range t.roles {
		def.Permissions = append([]string(nil), def.Permissions...)
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
