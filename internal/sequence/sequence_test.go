package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func TestFormatPadsToThreeDigits(t *testing.T) {
	assert.Equal(t, "PO20240301001", Format(TagPurchaseOrder, day, 1))
	assert.Equal(t, "INV20240301042", Format(TagInvoice, day, 42))
	assert.Equal(t, "PO202403011000", Format(TagPurchaseOrder, day, 1000))
}

func TestHighestSuffixIsNumeric(t *testing.T) {
	prefix := DayPrefix(TagPurchaseOrder, day)
	numbers := []string{"PO20240301999", "PO202403011000", "PO20240229500", "garbage"}
	assert.Equal(t, int64(1000), HighestSuffix(prefix, numbers))
	assert.Equal(t, int64(0), HighestSuffix(prefix, nil))
}

func TestCounterAllocatorResetsDaily(t *testing.T) {
	alloc := NewCounterAllocator(NewMemoryCounter())
	ctx := context.Background()

	first, err := alloc.Next(ctx, TagPurchaseOrder, day)
	require.NoError(t, err)
	second, err := alloc.Next(ctx, TagPurchaseOrder, day)
	require.NoError(t, err)
	nextDay, err := alloc.Next(ctx, TagPurchaseOrder, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	invoice, err := alloc.Next(ctx, TagInvoice, day)
	require.NoError(t, err)

	assert.Equal(t, "PO20240301001", first)
	assert.Equal(t, "PO20240301002", second)
	assert.Equal(t, "PO20240302001", nextDay)
	assert.Equal(t, "INV20240301001", invoice)
}

func TestCounterAllocatorConcurrentUnique(t *testing.T) {
	alloc := NewCounterAllocator(NewMemoryCounter())
	assertUniqueUnderLoad(t, alloc)
}

type fixedSeeder int64

func (s fixedSeeder) HighestSuffix(context.Context, string, string) (int64, error) {
	return int64(s), nil
}

func TestRedisAllocatorSeedsFromExistingNumbers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	alloc := NewRedisAllocator(client, fixedSeeder(7))
	number, err := alloc.Next(context.Background(), TagInvoice, day)
	require.NoError(t, err)
	assert.Equal(t, "INV20240301008", number)

	number, err = alloc.Next(context.Background(), TagInvoice, day)
	require.NoError(t, err)
	assert.Equal(t, "INV20240301009", number)
	assert.True(t, mr.TTL(redisKey(DayPrefix(TagInvoice, day))) > 0)
}

func TestRedisAllocatorConcurrentUnique(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	assertUniqueUnderLoad(t, NewRedisAllocator(client, fixedSeeder(0)))
}

func assertUniqueUnderLoad(t *testing.T, alloc Allocator) {
	t.Helper()
	const workers = 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := alloc.Next(context.Background(), TagPurchaseOrder, day)
			assert.NoError(t, err)
			mu.Lock()
			seen[number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers)
	_, ok := seen[Format(TagPurchaseOrder, day, workers)]
	assert.True(t, ok)
}
