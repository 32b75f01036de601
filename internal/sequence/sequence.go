// Package sequence allocates daily-scoped document numbers such as PO20240301001 and INV20240301001.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Document tags.
const (
	TagPurchaseOrder = "PO"
	TagInvoice       = "INV"
)

const dayLayout = "20060102"

// Allocator hands out document numbers that are unique per tag and day.
type Allocator interface {
	Next(ctx context.Context, tag string, at time.Time) (string, error)
}

// DayPrefix returns <tag><YYYYMMDD> for the UTC date of at.
func DayPrefix(tag string, at time.Time) string {
	return tag + at.UTC().Format(dayLayout)
}

// Format renders a document number. Sequences below 1000 are zero padded to three digits;
// larger sequences widen the number instead of wrapping.
func Format(tag string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s%03d", DayPrefix(tag, at), seq)
}

// Suffix extracts the numeric sequence from number when it carries prefix.
func Suffix(prefix, number string) (int64, bool) {
	rest, ok := strings.CutPrefix(number, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// HighestSuffix returns the largest sequence among numbers carrying prefix, or 0.
func HighestSuffix(prefix string, numbers []string) int64 {
	var highest int64
	for _, n := range numbers {
		if seq, ok := Suffix(prefix, n); ok && seq > highest {
			highest = seq
		}
	}
	return highest
}

// Counter atomically increments and returns the counter stored under key, starting at 1.
type Counter interface {
	Increment(ctx context.Context, key string) (int64, error)
}

// CounterAllocator derives numbers from a durable Counter keyed by day prefix.
type CounterAllocator struct {
	counter Counter
}

// NewCounterAllocator wraps counter.
func NewCounterAllocator(counter Counter) *CounterAllocator {
	return &CounterAllocator{counter: counter}
}

// Next implements Allocator.
func (a *CounterAllocator) Next(ctx context.Context, tag string, at time.Time) (string, error) {
	if tag == "" {
		return "", errors.New("sequence: tag required")
	}
	seq, err := a.counter.Increment(ctx, DayPrefix(tag, at))
	if err != nil {
		return "", fmt.Errorf("sequence: increment %s: %w", tag, err)
	}
	return Format(tag, at, seq), nil
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCounter constructs an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

// Increment implements Counter.
func (c *MemoryCounter) Increment(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key]++
	return c.values[key], nil
}
