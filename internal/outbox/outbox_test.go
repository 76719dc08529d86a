package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urclec/internal/identity"
	"urclec/internal/workflow"
)

type fakeDirectory map[identity.Role][]string

func (d fakeDirectory) UserIDsWithRole(_ context.Context, role identity.Role) ([]string, error) {
	return d[role], nil
}

var dir = fakeDirectory{
	identity.RoleHR:               {"hr-1", "hr-2"},
	identity.RoleManagement:       {"dg-1"},
	identity.RoleEquipmentManager: {"gm-1"},
}

func event(t *testing.T, eventType string, payload interface{}) Event {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return Event{EventID: "e-1", Type: eventType, Payload: body}
}

func TestRecipientsFollowOpenLevel(t *testing.T) {
	ctx := context.Background()
	base := RequestPayload{RequestID: "r-1", RequesterID: "emp", ChefID: "chef", Status: workflow.OutcomePending}

	created := base
	created.OpenLevel = workflow.LevelSupervisor
	got, err := Recipients(ctx, event(t, TypeRequestCreated, created), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"chef"}, got)

	atHR := base
	atHR.OpenLevel = workflow.LevelHR
	got, err = Recipients(ctx, event(t, TypeRequestDecided, atHR), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr-1", "hr-2"}, got)

	resolved := base
	resolved.Status = workflow.OutcomeRejected
	got, err = Recipients(ctx, event(t, TypeRequestDecided, resolved), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"emp"}, got)
}

func TestRecipientsForMovements(t *testing.T) {
	ctx := context.Background()
	p := MovementPayload{MovementID: "m-1", InitiatorID: "owner", DestinationResponsibleID: "repairer", ActorID: "owner"}

	got, err := Recipients(ctx, event(t, TypeMovementCreated, p), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"repairer"}, got)

	got, err = Recipients(ctx, event(t, TypeMovementConfirmed, p), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, got)

	got, err = Audience(ctx, event(t, TypeMovementConfirmed, p), dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner", "repairer", "gm-1"}, got)
}

func TestUnknownEventHasNoRecipients(t *testing.T) {
	got, err := Recipients(context.Background(), Event{Type: "something.else", Payload: []byte(`{}`)}, dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMalformedPayload(t *testing.T) {
	_, err := Recipients(context.Background(), Event{Type: TypeRequestDecided, Payload: []byte(`{`)}, dir)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestAnnouncementsAreBroadcast(t *testing.T) {
	assert.True(t, Broadcast(TypeAnnouncementPublished))
	assert.False(t, Broadcast(TypeRequestCreated))

	got, err := Audience(context.Background(), event(t, TypeAnnouncementPublished, AnnouncementPayload{AnnouncementID: "a-1", ActorID: "hr-1"}), dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}
