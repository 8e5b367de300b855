package allowedhosts

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan:
// 1. Test allowed and denied absolute checks
// 2. Test relative checks and the "self" authority reported on denial
// 3. Test unparsable URLs are denied without resolving
// 4. Test resolution happens exactly once under concurrency
// 5. Test resolution failure denies everything and is logged once
// 6. Test a waiter's cancelled context denies without cancelling resolution
// 7. Test denied handler panics are contained

type deniedRecorder struct {
	mu    sync.Mutex
	calls [][2]string
}

func (r *deniedRecorder) handle(scheme, authority string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{scheme, authority})
}

func (r *deniedRecorder) all() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.calls...)
}

func staticGate(t *testing.T, rec *deniedRecorder, patterns ...string) *Gate {
	t.Helper()
	list, err := ParseHostList(patterns)
	require.NoError(t, err)
	return NewGate(list.Source(nil), WithDeniedHandler(rec.handle))
}

// Test: Absolute URL checks
func TestGate_CheckURL(t *testing.T) {
	ctx := context.Background()
	rec := &deniedRecorder{}
	gate := staticGate(t, rec, "https://api.example.com", "mysql://db.internal")

	assert.True(t, gate.CheckURL(ctx, "https://api.example.com/v1/items", "https"))
	assert.True(t, gate.CheckURL(ctx, "api.example.com", "https"))
	assert.True(t, gate.CheckURL(ctx, "user:p#ss@db.internal", "mysql"))

	assert.False(t, gate.CheckURL(ctx, "https://api.example.com:8443", "https"))
	assert.False(t, gate.CheckURL(ctx, "http://api.example.com", "https"))

	assert.Equal(t, [][2]string{
		{"https", "api.example.com:8443"},
		{"http", "api.example.com"},
	}, rec.all())
}

// Test: Relative checks
func TestGate_CheckRelative(t *testing.T) {
	ctx := context.Background()

	rec := &deniedRecorder{}
	gate := staticGate(t, rec, "http://self")
	assert.True(t, gate.CheckRelative(ctx, "http", "https"))
	assert.False(t, gate.CheckRelative(ctx, "https"))
	assert.Equal(t, [][2]string{{"https", "self"}}, rec.all())

	rec = &deniedRecorder{}
	gate = staticGate(t, rec, "https://example.com")
	assert.False(t, gate.CheckRelative(ctx, "http", "https"))
	assert.Equal(t, [][2]string{{"http", "self"}}, rec.all())

	rec = &deniedRecorder{}
	gate = staticGate(t, rec)
	assert.False(t, gate.CheckRelative(ctx))
	assert.Equal(t, [][2]string{{"", "self"}}, rec.all())
}

// Test: Unparsable URLs are denied without consulting the policy
func TestGate_UnparsableURL(t *testing.T) {
	var calls atomic.Int32
	rec := &deniedRecorder{}
	gate := NewGate(func(context.Context) (Policy, error) {
		calls.Add(1)
		return AllowAll(), nil
	}, WithDeniedHandler(rec.handle))

	assert.False(t, gate.CheckURL(context.Background(), "http://exa%zz.com", "http"))
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, rec.all())
}

// Test: Concurrent first checks share a single resolution
func TestGate_ResolvesOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	policy := SpecificPatterns(mustPattern(t, "https://example.com"))
	gate := NewGate(func(context.Context) (Policy, error) {
		calls.Add(1)
		<-release
		return policy, nil
	})

	const workers = 32
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = gate.CheckURL(context.Background(), "https://example.com", "https")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, allowed := range results {
		assert.True(t, allowed)
	}
	assert.False(t, gate.CheckRelative(context.Background(), "https"))
	assert.Equal(t, int32(1), calls.Load())
}

// Test: Resolution failure denies every check and is reported once
func TestGate_ResolutionFailure(t *testing.T) {
	var calls atomic.Int32
	var buf bytes.Buffer
	rec := &deniedRecorder{}
	gate := NewGate(func(context.Context) (Policy, error) {
		calls.Add(1)
		return Policy{}, errors.New("variable store unavailable")
	}, WithDeniedHandler(rec.handle), WithLogger(zerolog.New(&buf)))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.False(t, gate.CheckURL(ctx, "https://example.com", "https"))
		assert.False(t, gate.CheckRelative(ctx, "http"))
	}

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, strings.Count(buf.String(), "variable store unavailable"))
	assert.Len(t, rec.all(), 6)

	_, err := gate.Policy(ctx)
	assert.Error(t, err)
}

// Test: A cancelled waiter is denied while resolution completes for others
func TestGate_WaiterCancellation(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	sourceCtxErr := make(chan error, 1)
	gate := NewGate(func(ctx context.Context) (Policy, error) {
		calls.Add(1)
		<-release
		sourceCtxErr <- ctx.Err()
		return AllowAll(), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		done <- gate.CheckURL(ctx, "https://example.com", "https")
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.False(t, <-done)

	close(release)
	assert.True(t, gate.CheckURL(context.Background(), "https://example.com", "https"))
	assert.NoError(t, <-sourceCtxErr)
	assert.Equal(t, int32(1), calls.Load())
}

// Test: A panicking denied handler does not affect the decision
func TestGate_HandlerPanic(t *testing.T) {
	var buf bytes.Buffer
	gate := NewGate(StaticSource(Policy{}),
		WithDeniedHandler(func(string, string) { panic("handler exploded") }),
		WithLogger(zerolog.New(&buf)),
	)

	assert.NotPanics(t, func() {
		assert.False(t, gate.CheckURL(context.Background(), "https://example.com", "https"))
	})
	assert.Contains(t, buf.String(), "denied host handler panicked")
}

// Test: A panicking source is treated as a resolution failure
func TestGate_SourcePanic(t *testing.T) {
	gate := NewGate(func(context.Context) (Policy, error) {
		panic("source exploded")
	})
	assert.False(t, gate.CheckURL(context.Background(), "https://example.com", "https"))
	_, err := gate.Policy(context.Background())
	assert.ErrorContains(t, err, "source exploded")
}
