package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"urclec/internal/movement"
)

// Movement is a movement with the actions the caller may take on it, as
// computed by the equipment service.
type Movement struct {
	movement.Movement
	EquipmentName string            `json:"equipment_name,omitempty"`
	Actions       []movement.Action `json:"actions"`
}

func (m Movement) Allows(action movement.Action) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

type MovementFilter struct {
	EquipmentID string
	Type        movement.Type
	PendingOnly bool
	Page        int
	PageSize    int
}

func (f MovementFilter) values() url.Values {
	query := url.Values{}
	if f.EquipmentID != "" {
		query.Set("equipment_id", f.EquipmentID)
	}
	if f.Type != "" {
		query.Set("type", string(f.Type))
	}
	if f.PendingOnly {
		query.Set("pending", "true")
	}
	if f.Page > 0 {
		query.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(f.PageSize))
	}
	return query
}

type Dispatch struct {
	EquipmentID              string             `json:"equipment_id"`
	Type                     movement.Type      `json:"type"`
	DestinationResponsibleID string             `json:"destination_responsible_id"`
	ToAgencyID               string             `json:"to_agency_id,omitempty"`
	ToServicePointID         string             `json:"to_service_point_id,omitempty"`
	ConditionAfter           movement.Condition `json:"condition_after,omitempty"`
	Comment                  string             `json:"comment,omitempty"`
}

func (d Dispatch) Validate() error {
	if !validID(d.EquipmentID) {
		return &ValidationError{Field: "equipment_id", Message: "must be a UUID"}
	}
	if !validID(d.DestinationResponsibleID) {
		return &ValidationError{Field: "destination_responsible_id", Message: "must be a UUID"}
	}
	switch d.Type {
	case movement.TypeTransfer, movement.TypeRepair:
	default:
		return &ValidationError{Field: "type", Message: "must be transfer or repair"}
	}
	return nil
}

func (c *Client) ListMovements(ctx context.Context, filter MovementFilter) (Page[Movement], error) {
	if filter.EquipmentID != "" && !validID(filter.EquipmentID) {
		return Page[Movement]{}, &ValidationError{Field: "equipment_id", Message: "must be a UUID"}
	}
	var page Page[Movement]
	err := c.do(ctx, http.MethodGet, c.endpoints.Equipment, "/api/movements", filter.values(), nil, &page)
	return page, err
}

func (c *Client) DispatchMovement(ctx context.Context, input Dispatch) (Movement, error) {
	if err := input.Validate(); err != nil {
		return Movement{}, err
	}
	body := struct {
		RequestID string `json:"request_id"`
		Dispatch
	}{RequestID: c.newID(), Dispatch: input}
	var out Movement
	err := c.do(ctx, http.MethodPost, c.endpoints.Equipment, "/api/movements", nil, body, &out)
	return out, err
}

// ConfirmReceipt accepts a movement addressed to the caller.
func (c *Client) ConfirmReceipt(ctx context.Context, movementID string) (Movement, error) {
	if !validID(movementID) {
		return Movement{}, &ValidationError{Field: "movement_id", Message: "must be a UUID"}
	}
	body := map[string]string{"request_id": c.newID(), "movement_id": movementID}
	var out Movement
	err := c.do(ctx, http.MethodPost, c.endpoints.Equipment, "/api/equipment/confirm-receipt", nil, body, &out)
	return out, err
}

// InitiateReturn sends a received repair back to its initiator with the
// final condition the initiator will confirm.
func (c *Client) InitiateReturn(ctx context.Context, repairID string, final movement.Condition, comment string) (Movement, error) {
	if !validID(repairID) {
		return Movement{}, &ValidationError{Field: "movement_id", Message: "must be a UUID"}
	}
	if !movement.ValidFinalCondition(final) {
		return Movement{}, &ValidationError{Field: "final_condition", Message: "must be functional or broken"}
	}
	body := map[string]string{
		"request_id":      c.newID(),
		"movement_id":     repairID,
		"final_condition": string(final),
		"comment":         comment,
	}
	var out Movement
	err := c.do(ctx, http.MethodPost, c.endpoints.Equipment, "/api/equipment/repair-return", nil, body, &out)
	return out, err
}
