package port

import "strings"

// Actor is an already-authenticated caller identity supplied by the auth layer
type Actor struct {
	ID          string   `json:"actor_id"`
	Name        string   `json:"actor_name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the actor holds permission
func (a Actor) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if strings.EqualFold(p, permission) {
			return true
		}
	}
	return false
}

// IsAuthenticated reports whether the identity carries an id and a role
func (a Actor) IsAuthenticated() bool {
	return strings.TrimSpace(a.ID) != "" && strings.TrimSpace(a.Role) != ""
}
