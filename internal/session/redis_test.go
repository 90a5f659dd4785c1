package session_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcloud/console/internal/session"
)

func newRedisStore(t *testing.T) *session.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return session.NewRedisStoreFromClient(client)
}

func TestRedisRoundTrip(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	ctx := t.Context()

	sess := session.New("id-1", "tok-1", time.Now().Add(time.Hour))
	sess.AccountID = "acct-1"
	sess.Set("k", "v")
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "v", got.GetString("k"))
}

func TestRedisUnknownToken(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	_, err := store.Get(t.Context(), "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestRedisUpdateRekeysToken(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	ctx := t.Context()

	sess := session.New("id-1", "tok-old", time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, sess))

	sess.Token = "tok-new"
	require.NoError(t, store.Update(ctx, sess))

	_, err := store.Get(ctx, "tok-old")
	require.ErrorIs(t, err, session.ErrNotFound)

	got, err := store.Get(ctx, "tok-new")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
}

func TestRedisDelete(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	ctx := t.Context()

	sess := session.New("id-1", "tok-1", time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, sess))
	require.NoError(t, store.Delete(ctx, "id-1"))

	_, err := store.Get(ctx, "tok-1")
	require.ErrorIs(t, err, session.ErrNotFound)

	// Deleting an unknown ID is a no-op.
	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestRedisDeleteByAccountID(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	ctx := t.Context()

	for _, tok := range []string{"tok-a", "tok-b"} {
		sess := session.New("id-"+tok, tok, time.Now().Add(time.Hour))
		sess.AccountID = "acct-1"
		require.NoError(t, store.Create(ctx, sess))
	}
	other := session.New("id-other", "tok-other", time.Now().Add(time.Hour))
	other.AccountID = "acct-2"
	require.NoError(t, store.Create(ctx, other))

	require.NoError(t, store.DeleteByAccountID(ctx, "acct-1"))

	_, err := store.Get(ctx, "tok-a")
	require.ErrorIs(t, err, session.ErrNotFound)
	_, err = store.Get(ctx, "tok-b")
	require.ErrorIs(t, err, session.ErrNotFound)

	got, err := store.Get(ctx, "tok-other")
	require.NoError(t, err)
	assert.Equal(t, "acct-2", got.AccountID)
}
