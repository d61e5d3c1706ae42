package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"live-ingest/constant"
	"live-ingest/entities"
)

func newTestStore(t *testing.T) (SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionStore(client), mr
}

func sampleSession(key, owner string, status constant.SessionStatus) *entities.StreamSession {
	started := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &entities.StreamSession{
		SessionID:      "4a1d5c3e-8f0b-4d7e-9a55-3c1b2f6e7d80",
		StreamKey:      key,
		OwnerID:        owner,
		OwnerName:      "owner-" + owner,
		Protocol:       constant.ProtocolRTMP,
		Status:         status,
		StartedAt:      started,
		LastActivityAt: started,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := sampleSession("key-1", "U1", constant.SessionStatusActive)
	in.ApplyMetrics(&entities.QualityMetrics{Bitrate: 2000, Resolution: "1280x720", FrameRate: 30, Codec: "h264"})
	require.NoError(t, store.Put(ctx, "key-1", in, time.Minute))

	out, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, in, out)

	require.NoError(t, store.Delete(ctx, "key-1"))
	out, err = store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Nil(t, out)

	// idempotent
	require.NoError(t, store.Delete(ctx, "key-1"))
}

func TestPutRejectsInvalidArguments(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.Error(t, store.Put(ctx, "", sampleSession("k", "U1", constant.SessionStatusConnecting), time.Minute))
	require.Error(t, store.Put(ctx, "k", nil, time.Minute))
	require.Error(t, store.Put(ctx, "k", sampleSession("k", "U1", constant.SessionStatusConnecting), 0))
}

func TestCreateOnlyWhenAbsent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	first := sampleSession("key-1", "U1", constant.SessionStatusActive)
	require.NoError(t, store.Create(ctx, "key-1", first, time.Minute))

	second := sampleSession("key-1", "U1", constant.SessionStatusConnecting)
	second.SessionID = "b7e3a9d2-0c41-4f6e-8d2a-5e9f1c7b3a10"
	require.ErrorIs(t, store.Create(ctx, "key-1", second, time.Minute), ErrSessionExists)

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, first.SessionID, got.SessionID)
	require.Equal(t, constant.SessionStatusActive, got.Status)

	mr.FastForward(time.Minute)
	require.NoError(t, store.Create(ctx, "key-1", second, time.Minute))
}

func TestSessionExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", sampleSession("key-1", "U1", constant.SessionStatusConnecting), 30*time.Second))
	mr.FastForward(31 * time.Second)

	out, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestListActiveForOwner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", sampleSession("a", "U1", constant.SessionStatusConnecting), time.Minute))
	require.NoError(t, store.Put(ctx, "b", sampleSession("b", "U1", constant.SessionStatusActive), time.Minute))
	require.NoError(t, store.Put(ctx, "c", sampleSession("c", "U1", constant.SessionStatusInactive), time.Minute))
	require.NoError(t, store.Put(ctx, "d", sampleSession("d", "U2", constant.SessionStatusActive), time.Minute))

	keys, err := store.ListActiveForOwner(ctx, "U1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	keys, err = store.ListActiveForOwner(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestIncrementRateCounterWindow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementRateCounter(ctx, "U1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// expiry is armed by the first increment only
	mr.FastForward(40 * time.Second)
	got, err := store.IncrementRateCounter(ctx, "U1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(4), got)

	mr.FastForward(21 * time.Second)
	got, err = store.IncrementRateCounter(ctx, "U1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	other, err := store.IncrementRateCounter(ctx, "U2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), other)
}

func TestStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	require.Error(t, store.Put(ctx, "k", sampleSession("k", "U1", constant.SessionStatusConnecting), time.Minute))
	_, err := store.Get(ctx, "k")
	require.Error(t, err)
	require.Error(t, store.Delete(ctx, "k"))
	_, err = store.ListActiveForOwner(ctx, "U1")
	require.Error(t, err)
	_, err = store.IncrementRateCounter(ctx, "U1", time.Minute)
	require.Error(t, err)
	require.Error(t, store.Ping(ctx))
}
