package movement

var dispatchMap = map[Type][]Condition{
	TypeAssignment:   {ConditionFunctional},
	TypeTransfer:     {ConditionFunctional},
	TypeRepair:       {ConditionFunctional, ConditionBroken},
	TypeRepairReturn: {ConditionInRepair},
}

func ValidDispatch(movementType Type, from Condition) bool {
	allowed, ok := dispatchMap[movementType]
	if !ok {
		return false
	}
	for _, condition := range allowed {
		if condition == from {
			return true
		}
	}
	return false
}
