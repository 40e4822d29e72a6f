package authz

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RolesFile is the on-disk role mapping table.
//
//	roles:
//	  - name: principal_engineer
//	    label: Principal Engineer
//	    permissions: [audit.export]
//	aliases:
//	  qe: quality_engineer
//	approvers: [principal_engineer]
type RolesFile struct {
	Roles []struct {
		Name        string   `yaml:"name"`
		Label       string   `yaml:"label"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`
	Aliases     map[string]string `yaml:"aliases"`
	Submitters  []string          `yaml:"submitters"`
	Approvers   []string          `yaml:"approvers"`
	Supervisors []string          `yaml:"supervisors"`
	Admins      []string          `yaml:"admins"`
}

// LoadRolesFile reads and parses a roles file
func LoadRolesFile(path string) (*RolesFile, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}

	var f RolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}
	return &f, nil
}

// Apply adds the file's roles, aliases and grants to the table. Builtin roles
// may be relabelled or given permissions but never removed.
func (t *Table) Apply(f *RolesFile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, def := range f.Roles {
		r := NormalizeRole(def.Name)
		if r == "" {
			return fmt.Errorf("roles file: role without a name")
		}
		existing := t.roles[r]
		existing.Name = r
		if def.Label != "" {
			existing.Label = def.Label
		}
		existing.Permissions = append(existing.Permissions, def.Permissions...)
		t.roles[r] = existing
	}

	for alias, target := range f.Aliases {
		a, r := NormalizeRole(alias), NormalizeRole(target)
		if _, ok := t.roles[r]; !ok {
			return fmt.Errorf("roles file: alias %q targets unknown role %q", alias, target)
		}
		if _, ok := t.roles[a]; ok {
			return fmt.Errorf("roles file: alias %q shadows a role", alias)
		}
		t.aliases[a] = r
	}

	t.submitters.add(f.Submitters...)
	t.approvers.add(f.Approvers...)
	t.supervisors.add(f.Supervisors...)
	t.admins.add(f.Admins...)

	return nil
}

// LoadTable builds a table from policy and, when rolesPath is set, the roles file
func LoadTable(p Policy, rolesPath string) (*Table, error) {
	t, err := NewTable(p)
	if err != nil {
		return nil, err
	}
	if rolesPath == "" {
		return t, nil
	}

	f, err := LoadRolesFile(rolesPath)
	if err != nil {
		return nil, err
	}
	if err := t.Apply(f); err != nil {
		return nil, err
	}
	return t, nil
}
