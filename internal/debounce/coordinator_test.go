package debounce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
)

type recordingProcessor struct {
	mu    sync.Mutex
	calls []string
	hook  func(call int, text string) error
}

func (p *recordingProcessor) Process(ctx context.Context, sender, text string) error {
	p.mu.Lock()
	p.calls = append(p.calls, text)
	call := len(p.calls)
	p.mu.Unlock()
	if p.hook != nil {
		return p.hook(call, text)
	}
	return nil
}

func (p *recordingProcessor) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func noSleep(context.Context, time.Duration) error { return nil }

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestSubmitSingleFragment(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	var slept time.Duration
	coord := NewCoordinator(store, store, proc, WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}))

	if err := coord.Submit(context.Background(), "+1 (555) 010-2000", "hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if slept != DefaultQuietWindow {
		t.Fatalf("expected quiet window %s, got %s", DefaultQuietWindow, slept)
	}
	calls := proc.Calls()
	if len(calls) != 1 || calls[0] != "hola" {
		t.Fatalf("unexpected processor calls %q", calls)
	}
	if store.Locked("15550102000") {
		t.Fatalf("lock should be released")
	}
	if store.Pending("15550102000") != 0 {
		t.Fatalf("buffer should be drained")
	}
}

func TestSubmitJoinsBufferedFragmentsInOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, text := range []string{"hola", "quiero una cita"} {
		if _, err := store.Append(ctx, "5550001", text); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, store, proc, WithSleeper(noSleep))

	if err := coord.Submit(ctx, "5550001", "para mañana"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	calls := proc.Calls()
	if len(calls) != 1 || calls[0] != "hola\nquiero una cita\npara mañana" {
		t.Fatalf("unexpected joined text %q", calls)
	}
}

func TestSubmitLockHeldLeavesFragmentBuffered(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, time.February, 12, 18, 0, 0, 0, time.UTC)
	if ok, _ := store.TryAcquire(ctx, "5550001", now.Add(-5*time.Second)); !ok {
		t.Fatalf("seed lock")
	}
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, store, proc, WithSleeper(noSleep), WithClock(func() time.Time { return now }))

	if err := coord.Submit(ctx, "5550001", "hola"); err != nil {
		t.Fatalf("expected held lock to be silent, got %v", err)
	}
	if len(proc.Calls()) != 0 {
		t.Fatalf("processor must not run without the lock")
	}
	if store.Pending("5550001") != 1 {
		t.Fatalf("fragment should stay buffered for the holder")
	}
	if !store.Locked("5550001") {
		t.Fatalf("foreign lock must not be released")
	}
}

func TestSubmitReapsStaleLock(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, time.February, 12, 18, 0, 0, 0, time.UTC)
	store.TryAcquire(ctx, "5550001", now.Add(-31*time.Second))
	store.TryAcquire(ctx, "5559999", now.Add(-45*time.Second))
	store.TryAcquire(ctx, "5558888", now.Add(-10*time.Second))

	reg := prometheus.NewRegistry()
	m := metrics.NewDebounceMetrics(reg)
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, store, proc,
		WithSleeper(noSleep),
		WithClock(func() time.Time { return now }),
		WithMetrics(m),
	)

	if err := coord.Submit(ctx, "5550001", "hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(proc.Calls()) != 1 {
		t.Fatalf("expected stale lock to be reclaimed and burst processed")
	}
	if store.Locked("5559999") {
		t.Fatalf("stale lock of another sender should be reaped")
	}
	if !store.Locked("5558888") {
		t.Fatalf("fresh lock of another sender must survive")
	}
	if got := counterValue(t, reg, "dental_debounce_stale_locks_reaped_total"); got != 2 {
		t.Fatalf("expected 2 reaped locks, got %v", got)
	}
}

func TestSubmitProcessesFragmentsArrivingMidBurst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var coord *Coordinator
	proc := &recordingProcessor{}
	proc.hook = func(call int, text string) error {
		if call == 1 {
			// Another invocation arrives while the first burst is processed.
			if err := coord.Submit(ctx, "5550001", "otra cosa"); err != nil {
				return err
			}
		}
		return nil
	}
	coord = NewCoordinator(store, store, proc, WithSleeper(noSleep))

	if err := coord.Submit(ctx, "5550001", "hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	calls := proc.Calls()
	if len(calls) != 2 || calls[0] != "hola" || calls[1] != "otra cosa" {
		t.Fatalf("expected two passes, got %q", calls)
	}
	if store.Locked("5550001") || store.Pending("5550001") != 0 {
		t.Fatalf("expected clean state after drain")
	}
}

func TestSubmitProcessorFailureReleasesLock(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("llm unavailable")
	proc := &recordingProcessor{hook: func(int, string) error { return boom }}
	coord := NewCoordinator(store, store, proc, WithSleeper(noSleep))

	err := coord.Submit(context.Background(), "5550001", "hola")
	if !errors.Is(err, boom) {
		t.Fatalf("expected processor error, got %v", err)
	}
	if store.Locked("5550001") {
		t.Fatalf("lock must be released after a failure")
	}
	if store.Pending("5550001") != 0 {
		t.Fatalf("failed burst is not requeued")
	}

	// The next message starts a fresh burst.
	proc.hook = nil
	if err := coord.Submit(context.Background(), "5550001", "sigo aquí"); err != nil {
		t.Fatalf("submit after failure: %v", err)
	}
	if calls := proc.Calls(); len(calls) != 2 || calls[1] != "sigo aquí" {
		t.Fatalf("unexpected calls %q", calls)
	}
}

func TestSubmitCancelledDuringQuietWindow(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, store, proc, WithQuietWindow(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := coord.Submit(ctx, "5550001", "hola")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if store.Locked("5550001") {
		t.Fatalf("lock must be released on cancellation")
	}
	if store.Pending("5550001") != 1 {
		t.Fatalf("undrained fragment should remain for the next burst")
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore()
	coord := NewCoordinator(store, store, &recordingProcessor{}, WithSleeper(noSleep))

	for _, tc := range []struct{ sender, text string }{
		{"", "hola"},
		{"abc", "hola"},
		{"5550001", "   "},
	} {
		if err := coord.Submit(context.Background(), tc.sender, tc.text); !errors.Is(err, ErrInvalidSubmission) {
			t.Fatalf("expected ErrInvalidSubmission for %+v, got %v", tc, err)
		}
	}
}

type failingLocks struct {
	*MemoryStore
	reapErr    error
	acquireErr error
}

func (f failingLocks) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	if f.reapErr != nil {
		return 0, f.reapErr
	}
	return f.MemoryStore.ReapStale(ctx, olderThan)
}

func (f failingLocks) TryAcquire(ctx context.Context, sender string, at time.Time) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	return f.MemoryStore.TryAcquire(ctx, sender, at)
}

func TestSubmitReapFailureDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, failingLocks{MemoryStore: store, reapErr: errors.New("timeout")}, proc, WithSleeper(noSleep))

	if err := coord.Submit(context.Background(), "5550001", "hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(proc.Calls()) != 1 {
		t.Fatalf("expected burst to be processed despite reap failure")
	}
}

func TestSubmitAcquireFailureReturnsError(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, failingLocks{MemoryStore: store, acquireErr: errors.New("conn refused")}, proc, WithSleeper(noSleep))

	if err := coord.Submit(context.Background(), "5550001", "hola"); err == nil || !strings.Contains(err.Error(), "acquire lock") {
		t.Fatalf("expected acquire error, got %v", err)
	}
	if len(proc.Calls()) != 0 {
		t.Fatalf("processor must not run")
	}
	if store.Pending("5550001") != 1 {
		t.Fatalf("fragment should remain buffered")
	}
}

type failingBuffer struct {
	*MemoryStore
	err error
}

func (b failingBuffer) Append(context.Context, string, string) (int64, error) {
	return 0, b.err
}

func TestSubmitAppendFailureReturnsErrBuffer(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	boom := errors.New("connection reset")
	coord := NewCoordinator(failingBuffer{MemoryStore: store, err: boom}, store, proc, WithSleeper(noSleep))

	err := coord.Submit(context.Background(), "5550001", "hola")
	if !errors.Is(err, ErrBuffer) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrBuffer wrapping the store error, got %v", err)
	}
	if store.Locked("5550001") {
		t.Fatalf("a failed append must not take the lock")
	}
	if len(proc.Calls()) != 0 {
		t.Fatalf("processor must not run")
	}
}

func TestBufferThenCoordinate(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, store, proc, WithSleeper(noSleep))
	ctx := context.Background()

	sender, err := coord.Buffer(ctx, "+1 (555) 000-1", "hola")
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if sender != "15550001" {
		t.Fatalf("expected normalized sender, got %q", sender)
	}
	if store.Pending(sender) != 1 || len(proc.Calls()) != 0 {
		t.Fatalf("buffer must only store the fragment")
	}
	if _, err := coord.Buffer(ctx, sender, "  "); !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("expected ErrInvalidSubmission, got %v", err)
	}

	if err := coord.Coordinate(ctx, sender); err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if calls := proc.Calls(); len(calls) != 1 || calls[0] != "hola" {
		t.Fatalf("unexpected processor calls %v", calls)
	}
	if store.Pending(sender) != 0 || store.Locked(sender) {
		t.Fatalf("expected drained buffer and released lock")
	}
}

// countingBuffer lets the quiet window end only once every concurrent
// submission has appended its fragment.
type countingBuffer struct {
	*MemoryStore
	mu    sync.Mutex
	order []string
	all   chan struct{}
	want  int
}

func (b *countingBuffer) Append(ctx context.Context, sender, text string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, err := b.MemoryStore.Append(ctx, sender, text)
	b.order = append(b.order, text)
	if len(b.order) == b.want {
		close(b.all)
	}
	return id, err
}

func TestConcurrentSubmitsProcessExactlyOnce(t *testing.T) {
	const n = 64
	store := NewMemoryStore()
	buffer := &countingBuffer{MemoryStore: store, all: make(chan struct{}), want: n}
	proc := &recordingProcessor{}
	var owners atomic.Int32
	coord := NewCoordinator(buffer, store, proc, WithSleeper(func(ctx context.Context, d time.Duration) error {
		owners.Add(1)
		select {
		case <-buffer.all:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- coord.Submit(ctx, "5550001", fmt.Sprintf("frag-%02d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	arrival := buffer.order

	calls := proc.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one processed burst, got %d", len(calls))
	}
	if calls[0] != strings.Join(arrival, "\n") {
		t.Fatalf("burst does not preserve arrival order:\n got %q\nwant %q", calls[0], strings.Join(arrival, "\n"))
	}
	if store.Locked("5550001") || store.Pending("5550001") != 0 {
		t.Fatalf("expected clean state after concurrent burst")
	}
	if owners.Load() < 1 {
		t.Fatalf("expected at least one lock owner")
	}
}

func TestConcurrentSendersAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	proc := &recordingProcessor{}
	coord := NewCoordinator(store, store, proc, WithQuietWindow(10*time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := coord.Submit(context.Background(), fmt.Sprintf("555000%d", i), "hola"); err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if got := len(proc.Calls()); got != 8 {
		t.Fatalf("expected one burst per sender, got %d", got)
	}
}
