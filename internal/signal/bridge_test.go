package signal

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

type fakePublisher struct {
	mu        sync.Mutex
	published []models.AvailabilitySignal
	errFor    map[string]error
}

func (p *fakePublisher) PublishSignal(_ context.Context, sig *models.AvailabilitySignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.errFor[sig.SignalID]; ok {
		return err
	}
	p.published = append(p.published, *sig)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) publishedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.published))
	for _, sig := range p.published {
		ids = append(ids, sig.SignalID)
	}
	return ids
}

func TestBridge_PumpsEmittedSignalsToPublisher(t *testing.T) {
	// Arrange
	ch := NewChannel(4)
	publisher := &fakePublisher{}
	bridge := NewBridge(ch, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	first := models.NewAvailabilitySignal(uuid.New())
	second := models.NewAvailabilitySignal(uuid.New())

	// Act
	require.NoError(t, ch.Emit(first))
	require.NoError(t, ch.Emit(second))

	// Assert: both signals reach the publisher in emission order
	require.Eventually(t, func() bool {
		return len(publisher.publishedIDs()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{first.SignalID, second.SignalID}, publisher.publishedIDs())
}

func TestBridge_PublishFailureDropsSignalOnly(t *testing.T) {
	// Arrange: the first signal fails to publish
	ch := NewChannel(4)
	doomed := models.NewAvailabilitySignal(uuid.New())
	survivor := models.NewAvailabilitySignal(uuid.New())
	publisher := &fakePublisher{errFor: map[string]error{doomed.SignalID: assert.AnError}}
	bridge := NewBridge(ch, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	// Act
	require.NoError(t, ch.Emit(doomed))
	require.NoError(t, ch.Emit(survivor))

	// Assert: the failed signal is dropped, the pump keeps going
	require.Eventually(t, func() bool {
		return len(publisher.publishedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{survivor.SignalID}, publisher.publishedIDs())
}

func TestBridge_StopsOnContextCancellation(t *testing.T) {
	// Arrange
	ch := NewChannel(1)
	publisher := &fakePublisher{}
	bridge := NewBridge(ch, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		bridge.Run(ctx)
		close(stopped)
	}()

	// Act
	cancel()

	// Assert
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancellation")
	}
}
