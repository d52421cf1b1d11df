package adapters

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

func assertClaimsOnce(t *testing.T, ledger ports.DispatchLedger, personaID, postID string) {
	t.Helper()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Claim(ctx, personaID, postID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := ledger.Claim(ctx, personaID, "other-"+postID)
	require.NoError(t, err)
	assert.True(t, ok, "claims are per pair")
}

func TestMemoryLedger_Claim(t *testing.T) {
	assertClaimsOnce(t, NewMemoryLedger(time.Hour), "persona-a", "post-1")
}

func TestMemoryLedger_Expiry(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Claim(ctx, "a", "p")
	assert.True(t, ok)
	ok, _ = l.Claim(ctx, "a", "p")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = l.Claim(ctx, "b", "p")
	assert.True(t, ok)
	assert.Len(t, l.claims, 1, "expired claims are swept")

	ok, _ = l.Claim(ctx, "a", "p")
	assert.True(t, ok, "expired claims can be taken again")
}

func TestMemoryLedger_NoTTLKeepsForever(t *testing.T) {
	l := NewMemoryLedger(0)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, _ := l.Claim(context.Background(), "a", "p")
	assert.True(t, ok)
	now = now.Add(1000 * time.Hour)
	ok, _ = l.Claim(context.Background(), "a", "p")
	assert.False(t, ok)
}

func redisAddr() string {
	if addr := os.Getenv("PDS_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRedisLedger_Claim(t *testing.T) {
	ledger, err := NewRedisLedger(RedisConfig{Addr: redisAddr()}, time.Minute)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer ledger.Close()

	postID := uuid.NewString()
	assertClaimsOnce(t, ledger, "persona-a", postID)

	ok, err := ledger.Claim(context.Background(), "persona-b", postID)
	require.NoError(t, err)
	assert.True(t, ok, "other personas can still claim the post")
}

func TestNewRedisLedger_Unreachable(t *testing.T) {
	_, err := NewRedisLedger(RedisConfig{Addr: "127.0.0.1:1"}, time.Minute)
	assert.Error(t, err)
}
