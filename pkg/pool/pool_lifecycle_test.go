package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/watt-toolkit/flywheel/pkg/perr"
)

type counterReceiver struct {
	total atomic.Int64
}

func (r *counterReceiver) Perform(arg interface{}) {
	r.total.Add(int64(arg.(int)))
}

func TestPool_SchedulePerformInvokesReceiver(t *testing.T) {
	p := New(Config{Name: "perform-pool", MaxThreads: 2, MaxOperations: 10})
	defer p.Shutdown()

	r := &counterReceiver{}
	for i := 1; i <= 4; i++ {
		p.SchedulePerform(r, i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, p.Drain(ctx))
	require.Equal(t, int64(10), r.total.Load())
}

func TestPool_DrainWaitsForInFlightItems(t *testing.T) {
	p := New(Config{Name: "inflight-pool", MaxThreads: 2, MaxOperations: 10})
	defer p.Shutdown()

	var done atomic.Int64
	for i := 0; i < 4; i++ {
		p.Schedule(func() {
			time.Sleep(30 * time.Millisecond)
			done.Inc()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, p.Drain(ctx))
	require.Equal(t, int64(4), done.Load())
	require.True(t, p.IsIdle())
}

func TestPool_DrainFalseWhenContextExpires(t *testing.T) {
	p := New(Config{Name: "stuck-pool", MaxThreads: 1, MaxOperations: 10})
	defer p.Shutdown()
	p.Suspend()

	p.Schedule(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.False(t, p.Drain(ctx))
}

func TestPool_ShutdownTwiceReportsShutdown(t *testing.T) {
	p := New(Config{Name: "twice-pool", MaxThreads: 1, MaxOperations: 10})
	require.NoError(t, p.Shutdown())
	require.ErrorIs(t, p.Shutdown(), perr.ErrShutdown)
}

func TestPool_ScheduleAfterShutdownIsDropped(t *testing.T) {
	p := New(Config{Name: "dropped-pool", MaxThreads: 1, MaxOperations: 10})
	require.NoError(t, p.Shutdown())

	var ran atomic.Bool
	p.Schedule(func() { ran.Store(true) })
	time.Sleep(20 * time.Millisecond)
	require.False(t, ran.Load())
}

func TestPool_SetThreadsRaisesWorkerCount(t *testing.T) {
	p := New(Config{Name: "grow-pool", MaxThreads: 1, MaxOperations: 100})
	defer p.Shutdown()
	p.SetThreads(4)

	var counter atomic.Int64
	for i := 0; i < 200; i++ {
		p.Schedule(func() { counter.Inc() })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, p.Drain(ctx))
	require.Equal(t, int64(200), counter.Load())
}

func TestPool_SetThreadsToZeroGoesSynchronous(t *testing.T) {
	p := New(Config{Name: "shrink-pool", MaxThreads: 2, MaxOperations: 10})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, p.Drain(ctx))

	p.SetThreads(0)
	executed := false
	p.Schedule(func() { executed = true })
	require.True(t, executed, "Schedule with MaxThreads=0 must run in the caller")
}
