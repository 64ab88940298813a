package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockGenerator struct {
	delay   time.Duration
	fail    map[string]bool
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (m *mockGenerator) Generate(ctx context.Context, species string, force bool) (string, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(m.delay):
	}

	if m.fail[species] {
		return "", errors.New("simulated failure")
	}
	return "/out/" + species + ".geojson", nil
}

func speciesTasks(names ...string) []Task {
	tasks := make([]Task, len(names))
	for i, n := range names {
		tasks[i] = Task{Species: n}
	}
	return tasks
}

func TestPool_AllTasksComplete(t *testing.T) {
	gen := &mockGenerator{delay: 5 * time.Millisecond}
	pool := New(Config{Workers: 2, Generator: gen})

	results := pool.Run(context.Background(), speciesTasks("Astacus_astacus", "Faxonius_limosus", "Pacifastacus_leniusculus"))
	require.Len(t, results, 3)

	var paths []string
	for _, r := range results {
		require.NoError(t, r.Err)
		paths = append(paths, r.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{
		"/out/Astacus_astacus.geojson",
		"/out/Faxonius_limosus.geojson",
		"/out/Pacifastacus_leniusculus.geojson",
	}, paths)
	assert.EqualValues(t, 3, gen.calls.Load())
}

func TestPool_BoundedParallelism(t *testing.T) {
	gen := &mockGenerator{delay: 20 * time.Millisecond}
	pool := New(Config{Workers: 3, Generator: gen})

	names := make([]string, 9)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	results := pool.Run(context.Background(), speciesTasks(names...))

	require.Len(t, results, 9)
	assert.LessOrEqual(t, gen.maxSeen.Load(), int32(3))
	assert.Greater(t, gen.maxSeen.Load(), int32(1))
}

func TestPool_Failures(t *testing.T) {
	gen := &mockGenerator{fail: map[string]bool{"b": true}}
	pool := New(Config{Workers: 2, Generator: gen})

	results := pool.Run(context.Background(), speciesTasks("a", "b", "c"))
	require.Len(t, results, 3)

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Task.Species)
}

func TestPool_Progress(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][3]int
	)
	pool := New(Config{
		Workers:   2,
		Generator: &mockGenerator{fail: map[string]bool{"c": true}},
		OnProgress: func(completed, total, failed int) {
			mu.Lock()
			calls = append(calls, [3]int{completed, total, failed})
			mu.Unlock()
		},
	})

	pool.Run(context.Background(), speciesTasks("a", "b", "c", "d"))

	require.Len(t, calls, 4)
	last := calls[len(calls)-1]
	assert.Equal(t, [3]int{4, 4, 1}, last)
	for i, c := range calls {
		assert.Equal(t, i+1, c[0])
	}
}

func TestPool_Cancellation(t *testing.T) {
	gen := &mockGenerator{delay: time.Second}
	pool := New(Config{Workers: 1, Generator: gen})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := pool.Run(ctx, speciesTasks("a", "b", "c"))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestPool_Empty(t *testing.T) {
	pool := New(Config{Generator: &mockGenerator{}})
	assert.Nil(t, pool.Run(context.Background(), nil))
}

func TestPool_ForceIsPassed(t *testing.T) {
	var forced atomic.Bool
	gen := generatorFunc(func(ctx context.Context, species string, force bool) (string, error) {
		forced.Store(force)
		return species, nil
	})
	New(Config{Generator: gen}).Run(context.Background(), []Task{{Species: "a", Force: true}})
	assert.True(t, forced.Load())
}

type generatorFunc func(ctx context.Context, species string, force bool) (string, error)

func (f generatorFunc) Generate(ctx context.Context, species string, force bool) (string, error) {
	return f(ctx, species, force)
}
