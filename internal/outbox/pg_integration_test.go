package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urclec/internal/identity"
	"urclec/internal/platform/dbx/dbxtest"
)

func TestPGFeedAndDirectory(t *testing.T) {
	pool := dbxtest.Pool(t)
	ctx := context.Background()

	hr := dbxtest.SeedUser(t, pool, "", "Ressources Humaines")
	rh := dbxtest.SeedUser(t, pool, "", "RH")
	gone := dbxtest.SeedUser(t, pool, "", "hr")
	_, err := pool.Exec(ctx, `UPDATE users SET active = false WHERE user_id = $1`, gone)
	require.NoError(t, err)
	dbxtest.SeedUser(t, pool, "", "chef")

	ids, err := NewPGDirectory(pool).UserIDsWithRole(ctx, identity.RoleHR)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{hr, rh}, ids)

	for i := 0; i < 3; i++ {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, Write(ctx, tx, TypeAnnouncementPublished, AnnouncementPayload{AnnouncementID: "a", ActorID: hr}))
		require.NoError(t, tx.Commit(ctx))
	}

	feed := NewPGFeed(pool)
	offset, err := feed.Offset(ctx, "test")
	require.NoError(t, err)
	assert.Zero(t, offset)

	events, err := feed.Since(ctx, offset, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Less(t, events[0].Seq, events[1].Seq)
	assert.Equal(t, TypeAnnouncementPublished, events[0].Type)

	require.NoError(t, feed.Commit(ctx, "test", events[1].Seq))
	require.NoError(t, feed.Commit(ctx, "test", events[0].Seq))
	offset, err = feed.Offset(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, events[1].Seq, offset)

	rest, err := feed.Since(ctx, offset, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	latest, err := feed.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, rest[0].Seq, latest)
}
