package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client, zerolog.Nop()), mr
}

func seedWith(n int, calls *int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		*calls++
		return n, nil
	}
}

func TestRedis_NextSeedsOnce(t *testing.T) {
	c, mr := newTestCounter(t)
	ctx := context.Background()
	calls := 0

	first, err := c.Next(ctx, "patient_id:2025", seedWith(4, &calls), time.Hour)
	require.NoError(t, err)
	second, err := c.Next(ctx, "patient_id:2025", seedWith(4, &calls), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 5, first)
	assert.Equal(t, 6, second)
	assert.Equal(t, 1, calls)

	v, err := mr.Get("clinic:seq:patient_id:2025")
	require.NoError(t, err)
	assert.Equal(t, "6", v)
	assert.True(t, mr.TTL("clinic:seq:patient_id:2025") > 0)
}

func TestRedis_KeysIndependent(t *testing.T) {
	c, _ := newTestCounter(t)
	ctx := context.Background()
	calls := 0

	a, _ := c.Next(ctx, "clinic_bill:250615", seedWith(0, &calls), time.Hour)
	b, _ := c.Next(ctx, "pharmacy_bill:251506", seedWith(0, &calls), time.Hour)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestRedis_SeedError(t *testing.T) {
	c, _ := newTestCounter(t)
	boom := errors.New("store down")
	_, err := c.Next(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }, time.Hour)
	assert.ErrorIs(t, err, boom)
}

func TestRedis_ConcurrentCallersGetDistinctValues(t *testing.T) {
	c, _ := newTestCounter(t)
	ctx := context.Background()

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Next(ctx, "prescription_serial:250615", func(context.Context) (int, error) { return 0, nil }, time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "missing %d", i)
	}
}

func TestRedis_ServerDown(t *testing.T) {
	c, mr := newTestCounter(t)
	mr.Close()
	_, err := c.Next(context.Background(), "k", func(context.Context) (int, error) { return 0, nil }, time.Hour)
	assert.Error(t, err)
}
