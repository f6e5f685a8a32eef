package permissions

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Module is an area of the clinic application guarded by permissions
type Module string

const (
	ModuleAppointments   Module = "APPOINTMENTS"
	ModulePatients       Module = "PATIENTS"
	ModuleDoctors        Module = "DOCTORS"
	ModuleServices       Module = "SERVICES"
	ModuleTreatmentPlans Module = "TREATMENT_PLANS"
	ModuleReports        Module = "REPORTS"
	ModuleSettings       Module = "SETTINGS"
	ModuleStaff          Module = "STAFF"
	ModuleBlogs          Module = "BLOGS"
)

// AllModules lists every module in display order
var AllModules = []Module{
	ModuleAppointments, ModulePatients, ModuleDoctors, ModuleServices, ModuleTreatmentPlans,
	ModuleReports, ModuleSettings, ModuleStaff, ModuleBlogs,
}

// Valid reports whether m is a known module
func (m Module) Valid() bool {
	for _, known := range AllModules {
		if m == known {
			return true
		}
	}
	return false
}

// Action is an operation on a module
type Action string

const (
	ActionView   Action = "VIEW"
	ActionCreate Action = "CREATE"
	ActionEdit   Action = "EDIT"
	ActionDelete Action = "DELETE"
)

// AllActions lists every action
var AllActions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionCreate, ActionEdit, ActionDelete:
		return true
	}
	return false
}

// Grants maps each module to the actions allowed on it
type Grants map[Module][]Action

// Allows reports whether action is granted on module. A nil Grants allows nothing.
func (g Grants) Allows(module Module, action Action) bool {
	for _, granted := range g[module] {
		if granted == action {
			return true
		}
	}
	return false
}

// Normalize validates g and returns a copy with sorted, de-duplicated actions
// and without empty modules
func (g Grants) Normalize() (Grants, error) {
	out := make(Grants, len(g))
	for module, actions := range g {
		if !module.Valid() {
			return nil, fmt.Errorf("%w: module %q", ErrInvalidGrant, module)
		}
		seen := make(map[Action]bool, len(actions))
		var kept []Action
		for _, action := range actions {
			if !action.Valid() {
				return nil, fmt.Errorf("%w: action %q", ErrInvalidGrant, action)
			}
			if !seen[action] {
				seen[action] = true
				kept = append(kept, action)
			}
		}
		if len(kept) == 0 {
			continue
		}
		sort.Slice(kept, func(i, j int) bool { return actionRank(kept[i]) < actionRank(kept[j]) })
		out[module] = kept
	}
	return out, nil
}

// Full returns every action on every module
func Full() Grants {
	g := make(Grants, len(AllModules))
	for _, module := range AllModules {
		g[module] = append([]Action(nil), AllActions...)
	}
	return g
}

func actionRank(a Action) int {
	for i, known := range AllActions {
		if a == known {
			return i
		}
	}
	return len(AllActions)
}

// ModulePermissions is the stored permission record of one staff member
type ModulePermissions struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	StaffID   uuid.UUID `json:"staff_id"`
	Grants    Grants    `json:"grants"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrInvalidGrant is returned for unknown modules or actions
	ErrInvalidGrant = errors.New("invalid permission grant")
	// ErrUnknownStaff is returned when saving permissions for a staff member that does not exist
	ErrUnknownStaff = errors.New("unknown staff member")
)
