// Package authz decides what an authenticated actor may do. Roles are a
// closed set of constants extended at runtime by a roles file.
package authz

import "strings"

// Role identifies a job function in the quality system
type Role string

const (
	RoleRiskEngineer      Role = "risk_engineer"
	RoleQualityEngineer   Role = "quality_engineer"
	RoleQualityManager    Role = "quality_manager"
	RoleManagement        Role = "management"
	RoleRegulatoryAffairs Role = "regulatory_affairs"
	RoleCMO               Role = "cmo"
	RoleAdmin             Role = "admin"
)

// Permissions checked outside the approval workflow
const (
	PermAuditExport  = "audit.export"
	PermAuditBackup  = "audit.backup"
	PermAuditRestore = "audit.restore"
)

var roleLabels = map[Role]string{
	RoleRiskEngineer:      "Risk Engineer",
	RoleQualityEngineer:   "Quality Engineer",
	RoleQualityManager:    "Quality Manager",
	RoleManagement:        "Management",
	RoleRegulatoryAffairs: "Regulatory Affairs",
	RoleCMO:               "Chief Medical Officer",
	RoleAdmin:             "Administrator",
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// NormalizeRole canonicalizes a role name: lower case, with spaces and dashes
// folded to underscores
func NormalizeRole(name string) Role {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	return Role(name)
}
