package auth

import (
	"fmt"
	"sort"
)

const (
	PermProductionSubmit = "production.submit"
	PermProductionRead   = "production.read"
	PermPDISubmit        = "pdi.submit"
	PermPDIRead          = "pdi.read"
	PermTaskRead         = "task.read"
	PermTaskCreate       = "task.create"
	PermTaskUpdate       = "task.update"
	PermTaskDelete       = "task.delete"
	PermEventsRead       = "events.read"

	// Wildcard grants every permission.
	Wildcard = "*"
)

// AllPermissions lists every permission the API checks.
var AllPermissions = []string{
	PermProductionSubmit,
	PermProductionRead,
	PermPDISubmit,
	PermPDIRead,
	PermTaskRead,
	PermTaskCreate,
	PermTaskUpdate,
	PermTaskDelete,
	PermEventsRead,
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Policy maps role names to permissions. An empty policy allows everything,
// which is how a workspace without an rbac section behaves.
type Policy struct {
	Roles map[string][]string
}

func (p Policy) Enabled() bool {
	return len(p.Roles) > 0
}

// Permissions resolves the sorted, de-duplicated permissions granted by roles.
func (p Policy) Permissions(roles []string) []string {
	set := map[string]struct{}{}
	for _, role := range roles {
		for _, perm := range p.Roles[role] {
			if perm == Wildcard {
				for _, all := range AllPermissions {
					set[all] = struct{}{}
				}
				continue
			}
			set[perm] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms
}

// Allows reports whether the roles or explicitly granted permissions cover perm.
func (p Policy) Allows(roles, granted []string, perm string) bool {
	if !p.Enabled() {
		return true
	}
	for _, g := range granted {
		if g == perm || g == Wildcard {
			return true
		}
	}
	for _, role := range roles {
		for _, rp := range p.Roles[role] {
			if rp == perm || rp == Wildcard {
				return true
			}
		}
	}
	return false
}

// Require returns ForbiddenError when perm is not granted.
func (p Policy) Require(roles, granted []string, perm string) error {
	if p.Allows(roles, granted, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}
