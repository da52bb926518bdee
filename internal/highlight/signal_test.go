package highlight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/mindflow/internal/events"
)

func next(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for highlight update")
	}
	return Update{}
}

func TestSignal_SetAndClearReachEveryWatcher(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal := New(bus, nil)
	graph, err := signal.Watch(ctx)
	require.NoError(t, err)
	reader, err := signal.Watch(ctx)
	require.NoError(t, err)

	signal.Set("Flow Theory")
	for _, ch := range []<-chan Update{graph, reader} {
		u := next(t, ch)
		require.NotNil(t, u.Term)
		assert.Equal(t, "Flow Theory", *u.Term)
		assert.False(t, u.Cleared)
	}
	term, ok := signal.Current()
	assert.True(t, ok)
	assert.Equal(t, "Flow Theory", term)

	signal.Clear()
	for _, ch := range []<-chan Update{graph, reader} {
		u := next(t, ch)
		assert.Nil(t, u.Term)
		assert.True(t, u.Cleared)
	}
	_, ok = signal.Current()
	assert.False(t, ok)
}

func TestSignal_ObserversSeeEveryChangeInOrder(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal := New(bus, nil)
	ch, err := signal.Watch(ctx)
	require.NoError(t, err)

	terms := []string{"a", "b", "b", "", "c"}
	for _, term := range terms {
		signal.Set(term)
	}

	var last uint64
	for _, want := range terms {
		u := next(t, ch)
		assert.Greater(t, u.Seq, last)
		last = u.Seq
		if want == "" {
			assert.Nil(t, u.Term)
			assert.False(t, u.Cleared)
			continue
		}
		require.NotNil(t, u.Term)
		assert.Equal(t, want, *u.Term)
	}
}

func TestSignal_WithoutBus(t *testing.T) {
	signal := New(nil, nil)
	signal.Set("x")
	term, ok := signal.Current()
	assert.True(t, ok)
	assert.Equal(t, "x", term)

	snap := signal.Snapshot()
	require.NotNil(t, snap.Term)
	assert.Equal(t, uint64(1), snap.Seq)

	signal.Set("")
	_, ok = signal.Current()
	assert.False(t, ok)
}

func TestSignal_WatchEndsWithContext(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())

	signal := New(bus, nil)
	ch, err := signal.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
