package replication

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
)

// setupTestRedis creates a replicator backed by an in-memory Redis server.
func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, WithLogger(zerolog.New(os.Stderr).Level(zerolog.Disabled)))

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return r, mr
}

func populatedSnapshot(t *testing.T, fp string) cache.Snapshot {
	t.Helper()
	e := cache.NewEntry(fp, 60, nil)
	require.NoError(t, e.Populate([]byte(`{"id":1}`), true, map[string]string{"Content-Type": "application/json"}, "200", "OK", 60))
	return e.Snapshot()
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "exchange-cache:exchange:ex-1", ExchangeKey("ex-1"))
	assert.Equal(t, "exchange-cache:entry:orders:abc", EntryKey("orders", "abc"))
	assert.Equal(t, "exchange-cache:entry::abc", EntryKey("", "abc"))
}

func TestRedis_ReplicateEntryAndLoad(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()
	snap := populatedSnapshot(t, "abc")

	require.NoError(t, r.ReplicateEntry(ctx, "orders", snap))
	assert.True(t, mr.Exists(EntryKey("orders", "abc")))

	loaded, err := r.LoadEntry(ctx, "orders", "abc")
	require.NoError(t, err)
	assert.Equal(t, snap, *loaded)
}

func TestRedis_ReplicateEntry_EmptyFingerprint(t *testing.T) {
	r, _ := setupTestRedis(t)
	err := r.ReplicateEntry(context.Background(), "orders", cache.Snapshot{})
	assert.ErrorIs(t, err, ErrReplicationFailure)
}

func TestRedis_LoadEntry_NotFound(t *testing.T) {
	r, _ := setupTestRedis(t)
	_, err := r.LoadEntry(context.Background(), "orders", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_ReplicateExchange(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()
	snap := populatedSnapshot(t, "abc")

	state := ExchangeState{
		ExchangeID:  "ex-1",
		CacheID:     "orders",
		RequestHash: "abc",
		Entry:       &snap,
	}
	require.NoError(t, r.ReplicateExchange(ctx, state))

	loaded, err := r.LoadExchange(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "orders", loaded.CacheID)
	assert.Equal(t, "abc", loaded.RequestHash)
	require.NotNil(t, loaded.Entry)
	assert.Equal(t, snap.Payload, loaded.Entry.Payload)

	// Only collected entries are published under their entry key.
	assert.False(t, mr.Exists(EntryKey("orders", "abc")))
}

func TestRedis_ReplicateExchange_Expires(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.ReplicateExchange(ctx, ExchangeState{ExchangeID: "ex-1", RequestHash: "abc"}))
	mr.FastForward(DefaultExchangeTTL + time.Second)

	_, err := r.LoadExchange(ctx, "ex-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_ReplicateExchange_EmptyID(t *testing.T) {
	r, _ := setupTestRedis(t)
	err := r.ReplicateExchange(context.Background(), ExchangeState{})
	assert.ErrorIs(t, err, ErrReplicationFailure)
}

func TestRedis_ServerDown(t *testing.T) {
	r, mr := setupTestRedis(t)
	mr.Close()
	ctx := context.Background()

	assert.ErrorIs(t, r.ReplicateEntry(ctx, "orders", populatedSnapshot(t, "abc")), ErrReplicationFailure)
	assert.ErrorIs(t, r.ReplicateExchange(ctx, ExchangeState{ExchangeID: "ex-1"}), ErrReplicationFailure)

	_, err := r.LoadExchange(ctx, "ex-1")
	assert.ErrorIs(t, err, ErrReplicationFailure)
}

func TestRedis_Loader(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, r.ReplicateEntry(ctx, "orders", populatedSnapshot(t, "abc")))

	load := r.Loader("orders", 30, nil)

	restored, err := load(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, restored.HasPayload())
	assert.False(t, restored.IsExpired())

	fresh, err := load(ctx, "unseen")
	require.NoError(t, err)
	assert.False(t, fresh.HasPayload())
	assert.Equal(t, int64(30), fresh.TTLSeconds())
}

func TestRedis_Loader_FallsBackWhenRedisFails(t *testing.T) {
	r, mr := setupTestRedis(t)
	mr.Close()

	e, err := r.Loader("orders", 30, nil)(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", e.Fingerprint())
	assert.False(t, e.HasPayload())
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var n Nop

	assert.NoError(t, n.ReplicateExchange(ctx, ExchangeState{}))
	assert.NoError(t, n.ReplicateEntry(ctx, "orders", cache.Snapshot{}))

	_, err := n.LoadExchange(ctx, "ex")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = n.LoadEntry(ctx, "orders", "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}
