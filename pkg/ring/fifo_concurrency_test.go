package ring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/watt-toolkit/flywheel/pkg/perr"
	"github.com/watt-toolkit/flywheel/pkg/registry"
)

func TestFIFO_MPMCManyProducersManyConsumers(t *testing.T) {
	f := New(Config{
		Name:          "mpmc-many",
		Capacity:      8,
		MultiProducer: true,
		MultiConsumer: true,
		GranularityMS: 1,
		Registry:      registry.New(),
	})
	ctx := context.Background()

	const producers, perProducer, consumers = 4, 250, 4
	const total = producers * perProducer

	var produced, consumed, sum atomic.Int64
	var pg, cg sync.WaitGroup

	for p := 0; p < producers; p++ {
		pg.Add(1)
		go func(base int) {
			defer pg.Done()
			for i := 0; i < perProducer; i++ {
				ok, err := f.Put(ctx, base*perProducer+i, true)
				if err != nil || !ok {
					return
				}
				produced.Inc()
			}
		}(p)
	}

	var claimed atomic.Int64
	for c := 0; c < consumers; c++ {
		cg.Add(1)
		go func() {
			defer cg.Done()
			for claimed.Inc() <= total {
				item, ok, err := f.Get(ctx, true)
				if err != nil || !ok {
					return
				}
				consumed.Inc()
				sum.Add(int64(item.(int)))
			}
		}()
	}

	pg.Wait()
	cg.Wait()

	require.Equal(t, int64(total), produced.Load())
	require.Equal(t, int64(total), consumed.Load())
	// every value 0..total-1 arrives exactly once
	require.Equal(t, int64(total)*(total-1)/2, sum.Load())
	require.Zero(t, f.Count())
}

func TestFIFO_TimeoutRaisedWhenWaitExceedsT(t *testing.T) {
	f := New(Config{
		Name:          "timeout-spsc",
		Capacity:      1,
		TimeoutMS:     50,
		GranularityMS: 5,
		Registry:      registry.New(),
	})
	ctx := context.Background()

	ok, err := f.Put(ctx, "fill", false)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = f.Put(ctx, "blocked", true)
	require.False(t, ok)
	require.ErrorIs(t, err, perr.ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestFIFO_BlockedGetWakesWhenItemArrives(t *testing.T) {
	f := New(Config{
		Name:          "wake-mpmc",
		Capacity:      4,
		MultiProducer: true,
		MultiConsumer: true,
		GranularityMS: 5,
		Registry:      registry.New(),
	})
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.Put(ctx, "late", true)
	}()

	item, ok, err := f.Get(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "late", item)
	require.Contains(t, f.StatsGet(), "waitCount=1")
}

func TestFIFO_NewNamedReadsEnvironment(t *testing.T) {
	t.Setenv("FIFO_CAPACITY_ORDERS", "8")
	t.Setenv("FIFO_TIMEOUT", "250")

	f, err := NewNamed("orders", Config{Registry: registry.New()}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(8), f.capacity)
	require.Equal(t, 250*time.Millisecond, f.timeout) // bare-key fallback
}

func TestFIFO_NewNamedDuplicateNameIsInvariantViolation(t *testing.T) {
	reg := registry.New()
	_, err := NewNamed("dup", Config{Registry: reg}, nil)
	require.NoError(t, err)

	_, err = NewNamed("dup", Config{Registry: reg}, nil)
	require.ErrorIs(t, err, perr.ErrInvariantViolation)
}

func TestFIFO_BulkObjectsRoundTrip(t *testing.T) {
	f := New(Config{
		Name:          "bulk",
		Capacity:      8,
		MultiProducer: true,
		MultiConsumer: true,
		Registry:      registry.New(),
	})
	ctx := context.Background()

	n, err := f.PutObjects(ctx, []Item{1, 2, 3}, false)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	buf := make([]Item, 5)
	n, err = f.GetObjects(ctx, buf, false)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []Item{1, 2, 3}, buf[:3])
}

func TestFIFO_PutAllNeverPartial(t *testing.T) {
	f := New(Config{
		Name:          "putall-strict",
		Capacity:      4,
		MultiProducer: true,
		MultiConsumer: true,
		GranularityMS: 1,
		Registry:      registry.New(),
	})
	ctx := context.Background()

	// Pre-fill half the ring so PutAll has to wait for the consumer
	// to open space before it can complete the whole block.
	_, err := f.PutObjects(ctx, []Item{"x", "y"}, false)
	require.NoError(t, err)

	got := make(chan Item, 6)
	go func() {
		for i := 0; i < 6; i++ {
			item, ok, _ := f.Get(ctx, true)
			if !ok {
				return
			}
			got <- item
		}
		close(got)
	}()

	require.NoError(t, f.PutAll(ctx, []Item{1, 2, 3, 4}))

	want := []Item{"x", "y", 1, 2, 3, 4}
	for _, w := range want {
		select {
		case item := <-got:
			require.Equal(t, w, item)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not receive every item")
		}
	}
	require.Zero(t, f.Count())
}
