package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conneroisu/meread/internal/reload"
	"github.com/conneroisu/meread/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 30 * time.Millisecond

type fakeRebuilder struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeRebuilder) Rebuild() error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if n <= len(f.errs) {
		return f.errs[n-1]
	}
	return nil
}

func (f *fakeRebuilder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingMetrics struct {
	mu        sync.Mutex
	successes int
	failures  int
	reloads   []int
}

func (m *recordingMetrics) ObserveRebuild(_ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
	} else {
		m.successes++
	}
}

func (m *recordingMetrics) ObserveReload(delivered int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads = append(m.reloads, delivered)
}

type harness struct {
	events chan watcher.ChangeEvent
	bus    *reload.Bus
	sub    *reload.Subscription
	cancel context.CancelFunc
	result chan error
}

func start(t *testing.T, r Rebuilder, metrics Metrics) *harness {
	t.Helper()
	bus := reload.NewBus(16)
	h := &harness{
		events: make(chan watcher.ChangeEvent, 64),
		bus:    bus,
		sub:    bus.Subscribe(),
		result: make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	c := New(r, bus, Options{Window: testWindow, Metrics: metrics})
	go func() { h.result <- c.Run(ctx, h.events) }()

	t.Cleanup(func() {
		cancel()
		<-h.result
		h.sub.Close()
	})
	return h
}

func (h *harness) send(paths ...string) {
	for _, p := range paths {
		h.events <- watcher.ChangeEvent{Type: watcher.EventTypeModified, Path: p}
	}
}

func (h *harness) tokens() int {
	return len(h.sub.C())
}

func TestBurstCoalescesIntoOneRebuild(t *testing.T) {
	r := &fakeRebuilder{}
	h := start(t, r, nil)

	h.send("a.md", "a.md", "b.md", "a.md", "c.png")

	require.Eventually(t, func() bool { return r.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(4 * testWindow)

	assert.Equal(t, 1, r.Calls())
	assert.Equal(t, 1, h.tokens())
}

func TestSlidingWindowExtendsOnEachEvent(t *testing.T) {
	r := &fakeRebuilder{}
	h := start(t, r, nil)

	// Each event arrives before the previous window closes.
	for i := 0; i < 5; i++ {
		h.send("a.md")
		time.Sleep(testWindow / 3)
		assert.Equal(t, 0, r.Calls())
	}

	require.Eventually(t, func() bool { return r.Calls() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSeparatedBurstsRebuildSeparately(t *testing.T) {
	r := &fakeRebuilder{}
	h := start(t, r, nil)

	h.send("a.md")
	require.Eventually(t, func() bool { return r.Calls() == 1 }, time.Second, 5*time.Millisecond)

	h.send("a.md")
	require.Eventually(t, func() bool { return r.Calls() == 2 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return h.tokens() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOtherEventsAreIgnored(t *testing.T) {
	r := &fakeRebuilder{}
	h := start(t, r, nil)

	for i := 0; i < 5; i++ {
		h.events <- watcher.ChangeEvent{Type: watcher.EventTypeOther, Path: "a.md"}
	}
	time.Sleep(4 * testWindow)

	assert.Equal(t, 0, r.Calls())
	assert.Equal(t, 0, h.tokens())
}

func TestEventsDuringRebuildCauseExactlyOneFollowUp(t *testing.T) {
	r := &fakeRebuilder{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 8),
	}
	h := start(t, r, nil)

	h.send("a.md")
	select {
	case <-r.started:
	case <-time.After(time.Second):
		t.Fatal("first rebuild did not start")
	}

	// Two full windows close while the first rebuild is still running.
	h.send("a.md", "b.md")
	time.Sleep(3 * testWindow)
	h.send("c.md")
	time.Sleep(3 * testWindow)

	assert.Equal(t, 1, r.Calls())
	close(r.gate)

	require.Eventually(t, func() bool { return r.Calls() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(4 * testWindow)
	assert.Equal(t, 2, r.Calls())
	assert.Equal(t, 2, h.tokens())
}

func TestFailedRebuildDoesNotPublishAndLoopContinues(t *testing.T) {
	r := &fakeRebuilder{errs: []error{errors.New("render exploded")}}
	metrics := &recordingMetrics{}
	h := start(t, r, metrics)

	h.send("a.md")
	require.Eventually(t, func() bool { return r.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * testWindow)
	assert.Equal(t, 0, h.tokens())

	h.send("a.md")
	require.Eventually(t, func() bool { return r.Calls() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.tokens() == 1 }, time.Second, 5*time.Millisecond)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 1, metrics.failures)
	assert.Equal(t, 1, metrics.successes)
	assert.Equal(t, []int{1}, metrics.reloads)
}

func TestRunReturnsWhenEventsClose(t *testing.T) {
	r := &fakeRebuilder{}
	events := make(chan watcher.ChangeEvent)
	c := New(r, reload.NewBus(1), Options{Window: testWindow})

	result := make(chan error, 1)
	go func() { result <- c.Run(context.Background(), events) }()

	close(events)
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after events closed")
	}
}

func TestRunReturnsContextError(t *testing.T) {
	c := New(&fakeRebuilder{}, reload.NewBus(1), Options{Window: testWindow})
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- c.Run(ctx, make(chan watcher.ChangeEvent)) }()

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunWaitsForRunningRebuild(t *testing.T) {
	r := &fakeRebuilder{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	events := make(chan watcher.ChangeEvent, 1)
	c := New(r, reload.NewBus(1), Options{Window: testWindow})
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- c.Run(ctx, events) }()

	events <- watcher.ChangeEvent{Type: watcher.EventTypeCreated, Path: "a.md"}
	<-r.started
	cancel()

	select {
	case <-result:
		t.Fatal("Run returned while a rebuild was running")
	case <-time.After(2 * testWindow):
	}

	close(r.gate)
	select {
	case <-result:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after rebuild finished")
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		batch []watcher.ChangeEvent
		paths []string
		more  int
	}{
		{
			name:  "empty",
			batch: nil,
			paths: []string{},
			more:  0,
		},
		{
			name: "duplicates collapse",
			batch: []watcher.ChangeEvent{
				{Type: watcher.EventTypeModified, Path: "b.md"},
				{Type: watcher.EventTypeModified, Path: "a.md"},
				{Type: watcher.EventTypeRemoved, Path: "b.md"},
			},
			paths: []string{"a.md", "b.md"},
			more:  0,
		},
		{
			name: "truncated",
			batch: []watcher.ChangeEvent{
				{Path: "e"}, {Path: "d"}, {Path: "c"}, {Path: "b"}, {Path: "a"},
			},
			paths: []string{"a", "b", "c"},
			more:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, more := summarize(tt.batch)
			assert.Equal(t, tt.paths, paths)
			assert.Equal(t, tt.more, more)
		})
	}
}
