package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-exchange-service/internal/models"
)

// fakeClaimer is a thread-safe in-memory notify latch shared between
// batcher instances in a test.
type fakeClaimer struct {
	mu     sync.Mutex
	armed  map[uuid.UUID]bool
	err    error
	errFor map[uuid.UUID]error
	calls  []uuid.UUID
}

func newFakeClaimer(armed ...uuid.UUID) *fakeClaimer {
	c := &fakeClaimer{armed: make(map[uuid.UUID]bool)}
	for _, id := range armed {
		c.armed[id] = true
	}
	return c
}

func (c *fakeClaimer) ClaimNotify(_ context.Context, bookID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, bookID)
	if c.err != nil {
		return false, c.err
	}
	if err, ok := c.errFor[bookID]; ok {
		return false, err
	}
	if c.armed[bookID] {
		c.armed[bookID] = false
		return true, nil
	}
	return false, nil
}

func (c *fakeClaimer) claimCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeResolver records each resolution call and serves canned matches.
type fakeResolver struct {
	mu      sync.Mutex
	matches []models.SubscriberMatch
	err     error
	calls   [][]uuid.UUID
}

func (r *fakeResolver) ResolveSubscribers(_ context.Context, bookIDs []uuid.UUID) ([]models.SubscriberMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, len(bookIDs))
	copy(ids, bookIDs)
	r.calls = append(r.calls, ids)

	if r.err != nil {
		return nil, r.err
	}

	requested := make(map[uuid.UUID]struct{}, len(bookIDs))
	for _, id := range bookIDs {
		requested[id] = struct{}{}
	}

	var out []models.SubscriberMatch
	for _, match := range r.matches {
		if _, ok := requested[match.BookID]; ok {
			out = append(out, match)
		}
	}
	return out, nil
}

func (r *fakeResolver) callSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sizes := make([]int, 0, len(r.calls))
	for _, call := range r.calls {
		sizes = append(sizes, len(call))
	}
	return sizes
}

// captureSink collects delivered digests.
type captureSink struct {
	mu      sync.Mutex
	digests []models.SubscriberDigest
}

func (s *captureSink) Deliver(_ context.Context, digest *models.SubscriberDigest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests = append(s.digests, *digest)
	return nil
}

func (s *captureSink) delivered() []models.SubscriberDigest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SubscriberDigest, len(s.digests))
	copy(out, s.digests)
	return out
}

func startBatcher(t *testing.T, signals chan models.AvailabilitySignal, claims *fakeClaimer, resolver *fakeResolver, sink *captureSink, cfg BatcherConfig) context.CancelFunc {
	t.Helper()

	b, err := NewBatcher(signals, claims, resolver, sink, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	return cancel
}

func TestBatcher_SizeCapSplitsThreeSignalsIntoTwoFlushes(t *testing.T) {
	// Arrange
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	claims := newFakeClaimer(a, b, c)
	resolver := &fakeResolver{}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  2,
		FlushInterval: 100 * time.Millisecond,
		FlushTimeout:  time.Second,
	})
	defer cancel()

	// Act: three signals arrive faster than the window
	signals <- models.NewAvailabilitySignal(a)
	signals <- models.NewAvailabilitySignal(b)
	signals <- models.NewAvailabilitySignal(c)

	// Assert: first flush carries 2 ids, second carries 1
	require.Eventually(t, func() bool {
		return len(resolver.callSizes()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{2, 1}, resolver.callSizes())
}

func TestBatcher_FlushesOnIntervalWithoutReachingSizeCap(t *testing.T) {
	// Arrange
	bookID := uuid.New()
	claims := newFakeClaimer(bookID)
	resolver := &fakeResolver{}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  100,
		FlushInterval: 50 * time.Millisecond,
		FlushTimeout:  time.Second,
	})
	defer cancel()

	// Act
	signals <- models.NewAvailabilitySignal(bookID)

	// Assert
	require.Eventually(t, func() bool {
		return claims.claimCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBatcher_DeduplicatesRepeatsWithinOneWindow(t *testing.T) {
	// Arrange
	bookID := uuid.New()
	claims := newFakeClaimer(bookID)
	resolver := &fakeResolver{}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  3,
		FlushInterval: 50 * time.Millisecond,
		FlushTimeout:  time.Second,
	})
	defer cancel()

	// Act: same book redelivered three times in one window
	signals <- models.NewAvailabilitySignal(bookID)
	signals <- models.NewAvailabilitySignal(bookID)
	signals <- models.NewAvailabilitySignal(bookID)

	// Assert: one claim, one resolution of one id
	require.Eventually(t, func() bool {
		return len(resolver.callSizes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, claims.claimCount())
	assert.Equal(t, []int{1}, resolver.callSizes())
}

func TestBatcher_LostClaimProducesNoDigest(t *testing.T) {
	// Arrange: latch already claimed elsewhere
	bookID := uuid.New()
	claims := newFakeClaimer() // nothing armed
	resolver := &fakeResolver{}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  1,
		FlushInterval: 50 * time.Millisecond,
		FlushTimeout:  time.Second,
	})
	defer cancel()

	// Act
	signals <- models.NewAvailabilitySignal(bookID)

	// Assert: claim attempted, nothing resolved or delivered
	require.Eventually(t, func() bool {
		return claims.claimCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, resolver.callSizes())
	assert.Empty(t, sink.delivered())
}

func TestBatcher_ResolverErrorDropsCycleOnly(t *testing.T) {
	// Arrange
	first, second := uuid.New(), uuid.New()
	claims := newFakeClaimer(first, second)
	resolver := &fakeResolver{err: assert.AnError}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  1,
		FlushInterval: 50 * time.Millisecond,
		FlushTimeout:  time.Second,
	})
	defer cancel()

	// Act: first cycle fails to resolve
	signals <- models.NewAvailabilitySignal(first)
	require.Eventually(t, func() bool {
		return len(resolver.callSizes()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sink.delivered())

	// The next cycle is unaffected
	resolver.mu.Lock()
	resolver.err = nil
	resolver.matches = []models.SubscriberMatch{
		{UserID: uuid.New(), Email: "reader@example.com", BookID: second, Title: "Oblomov"},
	}
	resolver.mu.Unlock()

	signals <- models.NewAvailabilitySignal(second)

	// Assert
	require.Eventually(t, func() bool {
		return len(sink.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Oblomov"}, sink.delivered()[0].Titles)
}

func TestBatcher_AggregatesTitlesPerSubscriber(t *testing.T) {
	// Arrange: two books, two subscribers, one of them interested in both
	bookA, bookB := uuid.New(), uuid.New()
	alice, bob := uuid.New(), uuid.New()

	claims := newFakeClaimer(bookA, bookB)
	resolver := &fakeResolver{matches: []models.SubscriberMatch{
		{UserID: alice, Email: "alice@example.com", BookID: bookA, Title: "Anna Karenina"},
		{UserID: alice, Email: "alice@example.com", BookID: bookB, Title: "War and Peace"},
		{UserID: bob, Email: "bob@example.com", BookID: bookB, Title: "War and Peace"},
	}}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  2,
		FlushInterval: time.Second,
		FlushTimeout:  time.Second,
	})
	defer cancel()

	// Act
	signals <- models.NewAvailabilitySignal(bookA)
	signals <- models.NewAvailabilitySignal(bookB)

	// Assert: one digest per subscriber, titles aggregated across the batch
	require.Eventually(t, func() bool {
		return len(sink.delivered()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	byUser := make(map[uuid.UUID]models.SubscriberDigest)
	for _, digest := range sink.delivered() {
		byUser[digest.UserID] = digest
	}
	assert.ElementsMatch(t, []string{"Anna Karenina", "War and Peace"}, byUser[alice].Titles)
	assert.Equal(t, []string{"War and Peace"}, byUser[bob].Titles)
	assert.Len(t, resolver.callSizes(), 1)
}

func TestBatcher_ConcurrentInstancesSingleWinner(t *testing.T) {
	// Arrange: two batcher instances sharing one latch, both receiving the
	// same redelivered signal
	bookID := uuid.New()
	claims := newFakeClaimer(bookID)
	resolver := &fakeResolver{matches: []models.SubscriberMatch{
		{UserID: uuid.New(), Email: "reader@example.com", BookID: bookID, Title: "The Idiot"},
	}}
	sink := &captureSink{}

	signalsOne := make(chan models.AvailabilitySignal, 1)
	signalsTwo := make(chan models.AvailabilitySignal, 1)

	cfg := BatcherConfig{
		MaxBatchSize:  1,
		FlushInterval: 50 * time.Millisecond,
		FlushTimeout:  time.Second,
	}
	cancelOne := startBatcher(t, signalsOne, claims, resolver, sink, cfg)
	defer cancelOne()
	cancelTwo := startBatcher(t, signalsTwo, claims, resolver, sink, cfg)
	defer cancelTwo()

	// Act
	signalsOne <- models.NewAvailabilitySignal(bookID)
	signalsTwo <- models.NewAvailabilitySignal(bookID)

	// Assert: both instances attempt the claim, exactly one digest goes out
	require.Eventually(t, func() bool {
		return claims.claimCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond) // allow a wrong second delivery to surface
	assert.Len(t, sink.delivered(), 1)
}

func TestBatcher_ShutdownFlushesBufferedSignals(t *testing.T) {
	// Arrange: a long window that will not elapse on its own
	bookID := uuid.New()
	claims := newFakeClaimer(bookID)
	resolver := &fakeResolver{}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	cancel := startBatcher(t, signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
		FlushTimeout:  time.Second,
	})

	signals <- models.NewAvailabilitySignal(bookID)

	// let the signal enter the accumulation window
	require.Eventually(t, func() bool {
		return len(signals) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Act
	cancel()

	// Assert: the buffered id was claimed during the shutdown flush
	require.Eventually(t, func() bool {
		return claims.claimCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// gatedClaimer parks the first claim call so a flush can be held in flight
// while more signals pile up in the channel.
type gatedClaimer struct {
	*fakeClaimer
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (c *gatedClaimer) ClaimNotify(ctx context.Context, bookID uuid.UUID) (bool, error) {
	c.once.Do(func() {
		close(c.entered)
		<-c.gate
	})
	return c.fakeClaimer.ClaimNotify(ctx, bookID)
}

func TestBatcher_ShutdownDrainsSignalsBufferedMidFlush(t *testing.T) {
	// Arrange: the first claim holds the batcher mid-flush
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	claims := &gatedClaimer{
		fakeClaimer: newFakeClaimer(a, b, c),
		entered:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
	resolver := &fakeResolver{}
	sink := &captureSink{}
	signals := make(chan models.AvailabilitySignal, 8)

	batcher, err := NewBatcher(signals, claims, resolver, sink, BatcherConfig{
		MaxBatchSize:  1,
		FlushInterval: time.Hour,
		FlushTimeout:  time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(stopped)
	}()

	signals <- models.NewAvailabilitySignal(a)
	select {
	case <-claims.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not reach the claimer")
	}

	// Act: two more signals land in the channel while the flush is in
	// flight, their offsets already committed upstream, then shutdown
	signals <- models.NewAvailabilitySignal(b)
	signals <- models.NewAvailabilitySignal(c)
	cancel()
	close(claims.gate)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("batcher did not stop")
	}

	// Assert: nothing buffered was abandoned
	assert.Zero(t, len(signals))
	assert.Equal(t, 3, claims.claimCount())
}

func TestBatcherConfig_Validate(t *testing.T) {
	valid := BatcherConfig{MaxBatchSize: 10, FlushInterval: time.Second, FlushTimeout: time.Second}
	assert.NoError(t, valid.Validate())

	invalid := valid
	invalid.MaxBatchSize = 0
	assert.Error(t, invalid.Validate())

	invalid = valid
	invalid.FlushInterval = 0
	assert.Error(t, invalid.Validate())

	invalid = valid
	invalid.FlushTimeout = 0
	assert.Error(t, invalid.Validate())
}

func TestBuildDigests_GroupsByUserPreservingOrder(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	matches := []models.SubscriberMatch{
		{UserID: alice, Email: "alice@example.com", Title: "Fathers and Sons"},
		{UserID: bob, Email: "bob@example.com", Title: "Fathers and Sons"},
		{UserID: alice, Email: "alice@example.com", Title: "Rudin"},
	}

	digests := buildDigests(matches)

	require.Len(t, digests, 2)
	assert.Equal(t, alice, digests[0].UserID)
	assert.Equal(t, []string{"Fathers and Sons", "Rudin"}, digests[0].Titles)
	assert.Equal(t, bob, digests[1].UserID)
}
