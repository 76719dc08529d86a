package movement

import "urclec/internal/identity"

type Action string

const (
	ActionConfirm        Action = "confirm"
	ActionInitiateReturn Action = "initiate_return"
)

// Ledger indexes a set of movements so eligibility questions can follow
// repair/return pairs. It never changes the movements it was built from.
type Ledger struct {
	byID    map[string]Movement
	returns map[string]Movement
}

func NewLedger(movements []Movement) Ledger {
	l := Ledger{
		byID:    make(map[string]Movement, len(movements)),
		returns: make(map[string]Movement),
	}
	for _, m := range movements {
		l.byID[m.ID] = m
		if m.Type == TypeRepairReturn && m.RelatedMovementID != "" {
			l.returns[m.RelatedMovementID] = m
		}
	}
	return l
}

func (l Ledger) Get(id string) (Movement, bool) {
	m, ok := l.byID[id]
	return m, ok
}

// ReturnFor finds the repair_return pointing at repairID.
func (l Ledger) ReturnFor(repairID string) (Movement, bool) {
	m, ok := l.returns[repairID]
	return m, ok
}

// ConfirmingParty is the user expected to confirm m. A return goes back to
// whoever dispatched the repair.
func (l Ledger) ConfirmingParty(m Movement) string {
	if m.Type == TypeRepairReturn {
		if repair, ok := l.byID[m.RelatedMovementID]; ok {
			return repair.InitiatorID
		}
	}
	return m.DestinationResponsibleID
}

func (l Ledger) CheckConfirm(id, actorID string) error {
	m, ok := l.byID[id]
	if !ok {
		return ErrMovementNotFound
	}
	if m.Confirmed {
		return ErrAlreadyConfirmed
	}
	if actorID == "" || l.ConfirmingParty(m) != actorID {
		return ErrNotResponsible
	}
	return nil
}

func (l Ledger) CheckInitiateReturn(id, actorID string) error {
	m, ok := l.byID[id]
	if !ok {
		return ErrMovementNotFound
	}
	if m.Type != TypeRepair {
		return ErrNotRepair
	}
	if actorID == "" || m.DestinationResponsibleID != actorID {
		return ErrNotResponsible
	}
	if !m.Confirmed {
		return ErrRepairNotConfirmed
	}
	if _, exists := l.returns[m.ID]; exists {
		return ErrReturnExists
	}
	return nil
}

func (l Ledger) CanConfirm(id, actorID string) bool {
	return l.CheckConfirm(id, actorID) == nil
}

func (l Ledger) CanInitiateReturn(id, actorID string) bool {
	return l.CheckInitiateReturn(id, actorID) == nil
}

// Actions lists what actorID may do on movement id right now.
func (l Ledger) Actions(id, actorID string) []Action {
	actions := []Action{}
	if l.CanConfirm(id, actorID) {
		actions = append(actions, ActionConfirm)
	}
	if l.CanInitiateReturn(id, actorID) {
		actions = append(actions, ActionInitiateReturn)
	}
	return actions
}

// Pending reports whether the equipment has a movement still waiting for
// confirmation.
func (l Ledger) Pending(equipmentID string) (Movement, bool) {
	for _, m := range l.byID {
		if m.EquipmentID == equipmentID && !m.Confirmed {
			return m, true
		}
	}
	return Movement{}, false
}

// SeesAll reports whether actor may read every movement.
func SeesAll(actor identity.Identity) bool {
	return actor.HasAnyRole(identity.RoleEquipmentManager, identity.RoleAdmin)
}

// VisibleTo keeps the movements actor takes part in, or all of them for
// equipment managers.
func VisibleTo(movements []Movement, actor identity.Identity) []Movement {
	visible := make([]Movement, 0, len(movements))
	for _, m := range movements {
		if SeesAll(actor) || (!actor.IsZero() && (m.InitiatorID == actor.UserID || m.DestinationResponsibleID == actor.UserID)) {
			visible = append(visible, m)
		}
	}
	return visible
}
