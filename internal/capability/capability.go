// Package capability maps participant roles to capabilities.
//
// The mapping is an explicit, immutable Table handed to the router at
// construction. Capabilities are never stored on a participant: every query
// recomputes them from the participant's current role set, so a role change
// is visible on the very next check.
package capability

import (
	"fmt"
	"slices"

	"github.com/agrathwohl/pvp/internal/model"
)

// Table is an immutable role -> capability mapping. The zero value knows
// no roles.
type Table struct {
	grants map[model.Role][]model.Capability
}

// NewTable builds a table from grants. The input map is copied.
func NewTable(grants map[model.Role][]model.Capability) (Table, error) {
	t := Table{grants: make(map[model.Role][]model.Capability, len(grants))}
	for role, caps := range grants {
		if role == "" {
			return Table{}, fmt.Errorf("capability table: empty role name")
		}
		for _, c := range caps {
			if !c.IsValid() {
				return Table{}, fmt.Errorf("capability table: role %q grants unknown capability %q", role, c)
			}
		}
		t.grants[role] = slices.Clone(caps)
	}
	return t, nil
}

// DefaultTable returns the standard pair-programming role scheme.
func DefaultTable() Table {
	t, err := NewTable(map[model.Role][]model.Capability{
		model.RoleDriver: {
			model.CapPrompt, model.CapInterrupt, model.CapAddContext,
			model.CapFork, model.CapApprove,
		},
		model.RoleNavigator: {
			model.CapPrompt, model.CapAddContext, model.CapApprove, model.CapInterrupt,
		},
		model.RoleAdviser:  {model.CapAddContext},
		model.RoleApprover: {model.CapApprove},
		model.RoleObserver: nil,
		model.RoleAdmin:    model.AllCapabilities,
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Known reports whether the table defines role.
func (t Table) Known(role model.Role) bool {
	_, ok := t.grants[role]
	return ok
}

// Roles returns every role the table defines, sorted.
func (t Table) Roles() []model.Role {
	roles := make([]model.Role, 0, len(t.grants))
	for r := range t.grants {
		roles = append(roles, r)
	}
	slices.Sort(roles)
	return roles
}

// Grants reports whether role grants capability c.
func (t Table) Grants(role model.Role, c model.Capability) bool {
	return slices.Contains(t.grants[role], c)
}

// HasCapability is true iff any of the participant's roles grants c.
func (t Table) HasCapability(p *model.Participant, c model.Capability) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if t.Grants(r, c) {
			return true
		}
	}
	return false
}

// Capabilities returns the derived capability set for a role set, in the
// order of model.AllCapabilities.
func (t Table) Capabilities(roles []model.Role) []model.Capability {
	var out []model.Capability
	for _, c := range model.AllCapabilities {
		for _, r := range roles {
			if t.Grants(r, c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// ValidateRoles checks a role set is non-empty and only names known roles.
func (t Table) ValidateRoles(roles []model.Role) error {
	if len(roles) == 0 {
		return model.Errorf(model.CodeInvalidRole, "role set must not be empty")
	}
	for _, r := range roles {
		if !t.Known(r) {
			return model.Errorf(model.CodeInvalidRole, "unknown role %q", r)
		}
	}
	return nil
}

// RoleChange records a role replacement for audit.
type RoleChange struct {
	Old []model.Role `json:"old"`
	New []model.Role `json:"new"`
}

// ChangeRoles replaces the participant's role set. Duplicates are dropped.
// On validation failure the participant is left untouched.
func (t Table) ChangeRoles(p *model.Participant, newRoles []model.Role) (RoleChange, error) {
	if err := t.ValidateRoles(newRoles); err != nil {
		return RoleChange{}, err
	}
	next := Normalize(newRoles)
	change := RoleChange{Old: slices.Clone(p.Roles), New: slices.Clone(next)}
	p.Roles = next
	return change, nil
}

// Normalize returns a sorted, de-duplicated copy of roles.
func Normalize(roles []model.Role) []model.Role {
	out := slices.Clone(roles)
	slices.Sort(out)
	return slices.Compact(out)
}
