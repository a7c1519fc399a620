package models

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ActionName identifies a sensitive operation that may be gated by MFA
type ActionName string

// Known actions. Anything outside this list resolves to an unregistered Action.
const (
	ActionDeleteUser               ActionName = "delete_user"
	ActionChangeUserRole           ActionName = "change_user_role"
	ActionResetUserPassword        ActionName = "reset_user_password"
	ActionDeleteVehicle            ActionName = "delete_vehicle"
	ActionBulkPriceUpdate          ActionName = "bulk_price_update"
	ActionExportCustomerData       ActionName = "export_customer_data"
	ActionDeleteServiceAppointment ActionName = "delete_service_appointment"
	ActionManageBranches           ActionName = "manage_branches"
	ActionViewActivityLog          ActionName = "view_activity_log"
	ActionViewReports              ActionName = "view_reports"
)

// ActionKind distinguishes registry entries from names the registry has never heard of
type ActionKind int

const (
	ActionKindRegistered ActionKind = iota
	ActionKindUnregistered
)

// Action is the resolved registry entry for an action name
type Action struct {
	Name        ActionName
	Kind        ActionKind
	RequiresMFA bool
	DisplayText string
}

// IsRegistered reports whether the action came from the registry
func (a Action) IsRegistered() bool {
	return a.Kind == ActionKindRegistered
}

type actionEntry struct {
	requiresMFA bool
	displayText string
}

// actionRegistry is the whitelist of known actions
var actionRegistry = map[ActionName]actionEntry{
	ActionDeleteUser:               {requiresMFA: true, displayText: "Delete User"},
	ActionChangeUserRole:           {requiresMFA: true, displayText: "Change User Role"},
	ActionResetUserPassword:        {requiresMFA: true, displayText: "Reset User Password"},
	ActionDeleteVehicle:            {requiresMFA: true, displayText: "Delete Vehicle"},
	ActionBulkPriceUpdate:          {requiresMFA: true, displayText: "Bulk Price Update"},
	ActionExportCustomerData:       {requiresMFA: true, displayText: "Export Customer Data"},
	ActionDeleteServiceAppointment: {requiresMFA: true, displayText: "Delete Service Appointment"},
	ActionManageBranches:           {requiresMFA: true, displayText: "Manage Branches"},
	ActionViewActivityLog:          {requiresMFA: false, displayText: "View Activity Log"},
	ActionViewReports:              {requiresMFA: false, displayText: "View Reports"},
}

// LookupAction resolves a raw action name against the registry.
// Unknown names come back as ActionKindUnregistered with RequiresMFA=false.
func LookupAction(name string) Action {
	an := ActionName(name)
	if entry, ok := actionRegistry[an]; ok {
		return Action{
			Name:        an,
			Kind:        ActionKindRegistered,
			RequiresMFA: entry.requiresMFA,
			DisplayText: entry.displayText,
		}
	}

	return Action{
		Name:        an,
		Kind:        ActionKindUnregistered,
		RequiresMFA: false,
		DisplayText: HumanizeActionName(name),
	}
}

// HumanizeActionName turns "export_customer_data" into "Export Customer Data"
func HumanizeActionName(name string) string {
	spaced := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	return cases.Title(language.English).String(strings.Join(strings.Fields(spaced), " "))
}

// RegisteredActions returns every registry entry that participates in MFA gating
func RegisteredActions() []Action {
	actions := make([]Action, 0, len(actionRegistry))
	for name := range actionRegistry {
		a := LookupAction(string(name))
		if a.RequiresMFA {
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}
