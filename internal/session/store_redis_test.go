package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := NewRedisStoreFromClient(rdb.NewClient(&rdb.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisStore_Contract(t *testing.T) {
	st, _ := newTestRedisStore(t)
	storeContract(t, st)
}

func TestRedisStore_KeyTTL(t *testing.T) {
	st, mr := newTestRedisStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, st.Save(ctx, &Session{ID: id, Subject: "1", ExpiresAt: time.Now().Add(time.Hour)}))
	assert.True(t, mr.Exists("sess:"+id))
	ttl := mr.TTL("sess:" + id)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	mr.FastForward(2 * time.Hour)
	_, err := st.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SaveExpiredDestroys(t *testing.T) {
	st, mr := newTestRedisStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, st.Save(ctx, &Session{ID: id, ExpiresAt: time.Now().Add(time.Hour)}))
	require.True(t, mr.Exists("sess:"+id))

	require.NoError(t, st.Save(ctx, &Session{ID: id, ExpiresAt: time.Now().Add(-time.Second)}))
	assert.False(t, mr.Exists("sess:"+id))
	_, err := st.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	st, mr := newTestRedisStore(t)
	id := uuid.NewString()
	require.NoError(t, mr.Set("sess:"+id, "{nope"))

	_, err := st.Load(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ServerDown(t *testing.T) {
	st, mr := newTestRedisStore(t)
	mr.Close()

	_, err := st.Load(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
