package throughput

import (
	"testing"

	"github.com/watt-toolkit/flywheel/internal/clock"
)

func TestThroughput_AddAccumulatesInCurrentSecond(t *testing.T) {
	tk := clock.New()
	th := New(Config{Name: "add-test", Ticker: tk})

	th.Add(3)
	th.Add(4)

	desc := th.Description()
	if desc == "" {
		t.Fatal("Description() returned empty string")
	}
	if th.totalCount.Load() != 7 {
		t.Errorf("totalCount = %d, want 7", th.totalCount.Load())
	}
}

func TestThroughput_RolloverMovesSecondIntoMinute(t *testing.T) {
	tk := clock.New()
	th := New(Config{Name: "rollover-test", Ticker: tk})

	th.Add(5)
	tk.Advance(1)
	th.Add(2) // forces a roll of the first second into the minute window

	th.mu.Lock()
	minuteCount := th.minute.count
	secondCount := th.second.count
	th.mu.Unlock()

	if minuteCount != 5 {
		t.Errorf("minute.count = %d, want 5", minuteCount)
	}
	if secondCount != 2 {
		t.Errorf("second.count = %d, want 2", secondCount)
	}
}

func TestThroughput_StartEndDurationRecordsElapsed(t *testing.T) {
	tk := clock.New()
	th := New(Config{Name: "duration-test", Ticker: tk})

	th.StartDuration("op")
	tk.Advance(3)
	th.EndDuration("op")

	if th.totalDuration.Load() != 3 {
		t.Errorf("totalDuration = %v, want 3", th.totalDuration.Load())
	}
}

func TestThroughput_NotificationsDeliverSamples(t *testing.T) {
	tk := clock.New()
	th := New(Config{Name: "notify-test", Ticker: tk})
	th.EnableNotifications(true)

	th.Add(1)
	tk.Advance(1)
	th.Add(1) // rolls over, should emit one sample for the first second

	select {
	case s := <-th.Notifications():
		if s.Count != 1 {
			t.Errorf("sample.Count = %d, want 1", s.Count)
		}
	default:
		t.Fatal("expected a sample on the notification channel")
	}
}

func TestThroughput_EndDurationWithoutStartIsNoop(t *testing.T) {
	tk := clock.New()
	th := New(Config{Name: "noop-test", Ticker: tk})
	th.EndDuration("never-started")
	if th.totalCount.Load() != 0 {
		t.Errorf("totalCount = %d, want 0", th.totalCount.Load())
	}
}
