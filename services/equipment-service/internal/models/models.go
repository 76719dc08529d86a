package models

import "urclec/internal/movement"

// MovementView is a movement as one reader sees it, with what they may do
// on it now.
type MovementView struct {
	movement.Movement
	EquipmentName string            `json:"equipment_name,omitempty"`
	Actions       []movement.Action `json:"actions"`
}

type EquipmentDetail struct {
	movement.Equipment
	ActiveAssignment *movement.Assignment `json:"active_assignment,omitempty"`
	Movements        []MovementView       `json:"movements"`
}

type Stats struct {
	ByCondition       map[movement.Condition]int       `json:"by_condition"`
	ByStatus          map[movement.EquipmentStatus]int `json:"by_status"`
	PendingMovements  int                              `json:"pending_movements"`
	AwaitingMe        int                              `json:"awaiting_me"`
	ActiveAssignments int                              `json:"active_assignments"`
	InRepair          int                              `json:"in_repair"`
}

// Views attaches the actor's actions to each movement, resolving pairs
// through the full ledger even when only a subset is shown.
func Views(ledger movement.Ledger, movements []movement.Movement, actorID string) []MovementView {
	views := make([]MovementView, 0, len(movements))
	for _, m := range movements {
		views = append(views, MovementView{Movement: m, Actions: ledger.Actions(m.ID, actorID)})
	}
	return views
}
