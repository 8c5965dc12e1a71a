package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "taskq/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw   string
		kind  Kind
		every time.Duration
		ok    bool
	}{
		{"*/5 * * * *", KindCron, 0, true},
		{"0 30 2 * * *", KindCron, 0, true},
		{"@hourly", KindCron, 0, true},
		{"@every 5m", KindCron, 0, true},
		{"cron:@daily", KindCron, 0, true},
		{"55m", KindInterval, 55 * time.Minute, true},
		{"02:30", KindInterval, 2*time.Hour + 30*time.Minute, true},
		{"interval: 00:50", KindInterval, 50 * time.Minute, true},
		{"every:10s", KindInterval, 10 * time.Second, true},
		{"", 0, 0, false},
		{"00:00", 0, 0, false},
		{"01:75", 0, 0, false},
		{"-5m", 0, 0, false},
		{"soon", 0, 0, false},
		{"61 * * * *", 0, 0, false},
		{"cron:", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec, err := ParseSchedule(tt.raw)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseSchedule(%q) error = %v, want ok=%v", tt.raw, err, tt.ok)
			}
			if !tt.ok {
				return
			}
			if spec.Kind != tt.kind || spec.Every != tt.every {
				t.Fatalf("ParseSchedule(%q) = %+v, want kind %v every %v", tt.raw, spec, tt.kind, tt.every)
			}
		})
	}
}

func TestTriggerFiresAndStops(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	fired := make(chan struct{}, 8)
	tr, err := New("1s", "UTC", func(context.Context) {
		n.Add(1)
		fired <- struct{}{}
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !tr.Next().IsZero() {
		t.Fatal("Next() before Start is not zero")
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if tr.Next().IsZero() {
		t.Fatal("Next() after Start is zero")
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never fired")
	}
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	after := n.Load()
	time.Sleep(1500 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("fired %d times after Stop", n.Load()-after)
	}
}

func TestTriggerSkipsOverlap(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	release := make(chan struct{})
	tr, err := New("1s", "", func(context.Context) {
		n.Add(1)
		<-release
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(3500 * time.Millisecond)
	close(release)
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := n.Load(); got != 1 {
		t.Fatalf("fire ran %d times, want 1 (overlaps skipped)", got)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := New("nope", "", func(context.Context) {}, logx.Nop()); err == nil {
		t.Fatal("New(bad schedule) error = nil")
	}
	if _, err := New("5m", "Mars/Olympus", func(context.Context) {}, logx.Nop()); err == nil {
		t.Fatal("New(bad timezone) error = nil")
	}
}

func TestReschedule(t *testing.T) {
	t.Parallel()

	tr, err := New("1h", "UTC", func(context.Context) {}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop(context.Background())
	before := tr.Next()
	if err := tr.Reschedule("1m", "UTC"); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if !tr.Next().Before(before) {
		t.Fatalf("Next() = %v, want before %v", tr.Next(), before)
	}
	if err := tr.Reschedule("bogus", "UTC"); err == nil {
		t.Fatal("Reschedule(bogus) error = nil")
	}
}

func TestRescheduleDoesNotBlockNext(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	tr, err := New("1s", "UTC", func(context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop(context.Background())
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never fired")
	}

	done := make(chan error, 1)
	go func() { done <- tr.Reschedule("1h", "UTC") }()

	next := make(chan time.Time, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		next <- tr.Next()
	}()
	select {
	case <-next:
	case <-time.After(time.Second):
		t.Fatal("Next() blocked while Reschedule waited for the running batch")
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Reschedule() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Reschedule() did not return after the batch finished")
	}
	if n := tr.Next(); n.IsZero() || time.Until(n) < 30*time.Minute {
		t.Fatalf("Next() = %v, want about an hour out", n)
	}
}
