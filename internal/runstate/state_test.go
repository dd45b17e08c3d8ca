package runstate

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farewatch/internal/metrics"
)

func TestTryBeginCheckIsSingleFlight(t *testing.T) {
	s := New()
	require.False(t, s.Checking())

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryBeginCheck() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, started.Load())
	assert.True(t, s.Checking())

	s.FinishCheck()
	assert.False(t, s.Checking())
	assert.True(t, s.TryBeginCheck())
}

func TestSnapshot(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	assert.False(t, snap.Checking)
	assert.Nil(t, snap.NextCheckAt)
	assert.Zero(t, snap.CheckCount)

	next := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	s.SetNextCheckAt(&next)
	assert.EqualValues(t, 1, s.IncrementCheckCount())
	assert.EqualValues(t, 2, s.IncrementCheckCount())

	snap = s.Snapshot()
	require.NotNil(t, snap.NextCheckAt)
	assert.True(t, snap.NextCheckAt.Equal(next))
	assert.EqualValues(t, 2, snap.CheckCount)

	// the snapshot owns its copy
	*snap.NextCheckAt = next.Add(time.Hour)
	assert.True(t, s.Snapshot().NextCheckAt.Equal(next))

	s.SetNextCheckAt(nil)
	assert.Nil(t, s.Snapshot().NextCheckAt)
}

func TestBroadcastPreservesOrder(t *testing.T) {
	s := New()
	a := s.Subscribe()
	b := s.Subscribe()
	require.Equal(t, 2, s.SubscriberCount())

	s.Broadcast(EventChecking, CheckingPayload{Checking: true})
	s.Broadcast(EventResult, "r")
	s.Broadcast(EventChecking, CheckingPayload{Checking: false})

	for _, sub := range []*Subscriber{a, b} {
		got := drain(sub, 3)
		assert.Equal(t, []string{EventChecking, EventResult, EventChecking}, kinds(got))
		assert.Equal(t, CheckingPayload{Checking: true}, got[0].Data)
		assert.Equal(t, CheckingPayload{Checking: false}, got[2].Data)
	}
}

func TestBroadcastShedsFullSubscriber(t *testing.T) {
	m := metrics.New()
	s := New(WithQueueSize(3), WithMetrics(m))
	slow := s.Subscribe()
	fast := s.Subscribe()

	for i := 0; i < 4; i++ {
		s.Broadcast(EventResult, i)
		// fast keeps up
		ev := <-fast.Events()
		assert.Equal(t, i, ev.Data)
	}

	assert.Equal(t, 1, s.SubscriberCount())

	// slow received the first three events, then its channel was closed
	got := make([]any, 0, 3)
	for ev := range slow.Events() {
		got = append(got, ev.Data)
	}
	assert.Equal(t, []any{0, 1, 2}, got)

	s.Broadcast(EventResult, "after")
	ev := <-fast.Events()
	assert.Equal(t, "after", ev.Data)

	// unsubscribing a shed subscriber must not close its channel twice
	assert.NotPanics(t, func() { s.Unsubscribe(slow) })

	shed, err := testutil.GatherAndCount(m.Registry(), "farewatch_stream_shed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, shed)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP farewatch_stream_shed_total Subscribers dropped because their queue was full.
# TYPE farewatch_stream_shed_total counter
farewatch_stream_shed_total 1
`), "farewatch_stream_shed_total"))
}

func TestBroadcastNeverBlocks(t *testing.T) {
	s := New(WithQueueSize(1))
	s.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Broadcast(EventResult, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full queue")
	}
	assert.Zero(t, s.SubscriberCount())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New()
	sub := s.Subscribe()
	s.Unsubscribe(sub)
	s.Unsubscribe(sub)
	s.Unsubscribe(nil)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Zero(t, s.SubscriberCount())
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	s := New()
	s.Broadcast(EventResult, "early")
	sub := s.Subscribe()
	s.Broadcast(EventResult, "late")

	ev := <-sub.Events()
	assert.Equal(t, "late", ev.Data)
	assert.Empty(t, sub.Events())
}

func drain(sub *Subscriber, n int) []Event {
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, <-sub.Events())
	}
	return out
}

func kinds(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
