// Package outbox defines the events services write next to their state
// changes, and who should hear about each of them.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"urclec/internal/identity"
	"urclec/internal/workflow"
)

const (
	TypeRequestCreated        = "request.created"
	TypeRequestDecided        = "request.decided"
	TypeRequestArchived       = "request.archived"
	TypeMovementCreated       = "movement.created"
	TypeMovementConfirmed     = "movement.confirmed"
	TypeRepairReturnCreated   = "repair_return.created"
	TypeAssignmentWithdrawn   = "assignment.withdrawn"
	TypeAnnouncementPublished = "announcement.published"
)

// ErrMalformedPayload marks an event whose payload does not decode. Retrying
// will not help.
var ErrMalformedPayload = errors.New("malformed event payload")

type Event struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type RequestPayload struct {
	RequestID   string           `json:"request_id"`
	RequesterID string           `json:"requester_id"`
	ChefID      string           `json:"chef_id,omitempty"`
	RequestType string           `json:"request_type"`
	Status      workflow.Outcome `json:"status"`
	OpenLevel   workflow.Level   `json:"open_level,omitempty"`
	ActorID     string           `json:"actor_id"`
	Outcome     workflow.Outcome `json:"outcome,omitempty"`
}

type MovementPayload struct {
	MovementID               string `json:"movement_id"`
	EquipmentID              string `json:"equipment_id"`
	MovementType             string `json:"movement_type"`
	InitiatorID              string `json:"initiator_id"`
	DestinationResponsibleID string `json:"destination_responsible_id"`
	RelatedMovementID        string `json:"related_movement_id,omitempty"`
	ActorID                  string `json:"actor_id"`
}

type AnnouncementPayload struct {
	AnnouncementID string `json:"announcement_id"`
	Title          string `json:"title"`
	ActorID        string `json:"actor_id"`
}

// Write appends an event inside tx so it commits or rolls back with the state
// change it describes.
func Write(ctx context.Context, tx pgx.Tx, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

// Directory answers the role lookups recipient resolution needs.
type Directory interface {
	UserIDsWithRole(ctx context.Context, role identity.Role) ([]string, error)
}

// Recipients is who must act next, or learn the result, after event.
func Recipients(ctx context.Context, event Event, dir Directory) ([]string, error) {
	switch event.Type {
	case TypeRequestCreated, TypeRequestDecided:
		var p RequestPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, malformed(event.Type, err)
		}
		if p.Status != workflow.OutcomePending {
			return single(p.RequesterID), nil
		}
		return approvers(ctx, p, dir)
	case TypeMovementCreated, TypeRepairReturnCreated:
		var p MovementPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, malformed(event.Type, err)
		}
		return single(p.DestinationResponsibleID), nil
	case TypeMovementConfirmed:
		var p MovementPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, malformed(event.Type, err)
		}
		return single(p.InitiatorID), nil
	default:
		return nil, nil
	}
}

// Audience widens Recipients to everyone whose dashboard shows the entity:
// the parties involved and, for movements, the equipment managers.
func Audience(ctx context.Context, event Event, dir Directory) ([]string, error) {
	users, err := Recipients(ctx, event, dir)
	if err != nil {
		return nil, err
	}
	switch event.Type {
	case TypeRequestCreated, TypeRequestDecided, TypeRequestArchived:
		var p RequestPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, malformed(event.Type, err)
		}
		users = append(users, p.RequesterID, p.ChefID, p.ActorID)
	case TypeMovementCreated, TypeMovementConfirmed, TypeRepairReturnCreated, TypeAssignmentWithdrawn:
		var p MovementPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, malformed(event.Type, err)
		}
		managers, err := dir.UserIDsWithRole(ctx, identity.RoleEquipmentManager)
		if err != nil {
			return nil, err
		}
		users = append(users, p.InitiatorID, p.DestinationResponsibleID, p.ActorID)
		users = append(users, managers...)
	}
	return dedupe(users), nil
}

// Broadcast reports whether event concerns every signed-in user rather than
// a resolved audience.
func Broadcast(eventType string) bool {
	return eventType == TypeAnnouncementPublished
}

func approvers(ctx context.Context, p RequestPayload, dir Directory) ([]string, error) {
	switch p.OpenLevel {
	case workflow.LevelSupervisor:
		return single(p.ChefID), nil
	case workflow.LevelHR:
		return dir.UserIDsWithRole(ctx, identity.RoleHR)
	case workflow.LevelManagement:
		return dir.UserIDsWithRole(ctx, identity.RoleManagement)
	default:
		return nil, nil
	}
}

func malformed(eventType string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, eventType, err)
}

func single(userID string) []string {
	if userID == "" {
		return nil
	}
	return []string{userID}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
