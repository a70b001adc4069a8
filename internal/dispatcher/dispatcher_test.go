package dispatcher

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) log(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv) }
func (l *testLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv) }
func (l *testLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(d.Close)
	return d, logger
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		cmd  string
		args []string
	}{
		{":tick: 0.02", true, ":TICK:", []string{"0.02"}},
		{"  :DRAW: probe tank_a water 5  ", true, ":DRAW:", []string{"probe", "tank_a", "water", "5"}},
		{":STATUS:", true, ":STATUS:", []string{}},
		{"", false, "", nil},
		{"# comment", false, "", nil},
	}

	for _, tt := range tests {
		e, ok := ParseLine(tt.line)
		if ok != tt.ok {
			t.Errorf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if e.Command != tt.cmd {
			t.Errorf("ParseLine(%q) command = %q, want %q", tt.line, e.Command, tt.cmd)
		}
		if !reflect.DeepEqual(e.Args, tt.args) {
			t.Errorf("ParseLine(%q) args = %v, want %v", tt.line, e.Args, tt.args)
		}
	}
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(":TICK:", func(e Event) (any, error) {
		got = e
		return "ticked", nil
	})

	result, err := d.Dispatch(Event{Command: ":tick:", Args: []string{"0.5"}})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ticked" {
		t.Errorf("expected 'ticked', got %v", result)
	}
	if len(got.Args) != 1 || got.Args[0] != "0.5" {
		t.Errorf("handler saw args %v", got.Args)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	if _, err := d.Dispatch(Event{Command: ":UNKNOWN:"}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(":RECORD:", func(e Event) (any, error) {
		processed.Add(1)
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: ":RECORD:"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	// Close drains the queue
	d.Close()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
	if _, err := d.Dispatch(Event{Command: ":RECORD:"}); err == nil {
		t.Error("expected error after close")
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(":FULL:", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(2))

	d.Dispatch(Event{Command: ":FULL:"})
	<-started // first event is being processed
	d.Dispatch(Event{Command: ":FULL:"})
	d.Dispatch(Event{Command: ":FULL:"})

	_, err := d.Dispatch(Event{Command: ":FULL:"})
	if err == nil {
		t.Error("expected error when queue is full")
	}
	if n := d.QueueLengths()[":FULL:"]; n != 2 {
		t.Errorf("expected queue length 2, got %d", n)
	}

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(":BLOCKING:", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Command: ":BLOCKING:"})
	<-started
	d.Dispatch(Event{Command: ":BLOCKING:"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: ":BLOCKING:"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}

func TestDispatcher_QueuedErrorIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":FAIL:", func(e Event) (any, error) {
		return nil, fmt.Errorf("storage unavailable")
	}, Buffered(4))

	d.Dispatch(Event{Command: ":FAIL:"})
	d.Close()

	if logger.count("ERROR") != 1 {
		t.Errorf("expected one error log, got %v", logger.messages)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":STATUS:", func(e Event) (any, error) { return "ok", nil }, Logged())
	d.Register(":BROKEN:", func(e Event) (any, error) { return nil, fmt.Errorf("test error") }, Logged())

	d.Dispatch(Event{Command: ":STATUS:", Args: []string{"a", "b"}})
	if logger.count("DEBUG") != 2 {
		t.Errorf("expected 2 debug messages, got %v", logger.messages)
	}

	d.Dispatch(Event{Command: ":BROKEN:"})
	if logger.count("ERROR") != 1 {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandlerAndCommands(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":VERSION:", func(e Event) (any, error) { return nil, nil })
	d.Register(":accel:", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler(":version:") {
		t.Error("expected handler to exist")
	}
	if d.HasHandler(":NOT_EXISTS:") {
		t.Error("expected handler to not exist")
	}
	if got := d.Commands(); !reflect.DeepEqual(got, []string{":ACCEL:", ":VERSION:"}) {
		t.Errorf("unexpected commands %v", got)
	}
}

func TestDispatcher_Stats(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":OK:", func(e Event) (any, error) { return nil, nil })
	d.Register(":BAD:", func(e Event) (any, error) { return nil, fmt.Errorf("nope") })
	d.Register(":IDLE:", func(e Event) (any, error) { return nil, nil })

	var handled sync.WaitGroup
	handled.Add(2)
	d.Register(":QUEUED:", func(e Event) (any, error) {
		defer handled.Done()
		return nil, fmt.Errorf("backend down")
	}, Buffered(4))

	d.Dispatch(Event{Command: ":ok:"})
	d.Dispatch(Event{Command: ":OK:"})
	d.Dispatch(Event{Command: ":BAD:"})
	d.Dispatch(Event{Command: ":QUEUED:"})
	d.Dispatch(Event{Command: ":QUEUED:"})
	handled.Wait()

	stats := d.Stats()
	if _, ok := stats[":IDLE:"]; ok {
		t.Error("commands never called should not be reported")
	}
	if got := stats[":OK:"]; got.Calls != 2 || got.Failures != 0 {
		t.Errorf("unexpected :OK: stats %+v", got)
	}
	if got := stats[":BAD:"]; got.Calls != 1 || got.Failures != 1 {
		t.Errorf("unexpected :BAD: stats %+v", got)
	}

	deadline := time.Now().Add(time.Second)
	for stats[":QUEUED:"].Failures != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		stats = d.Stats()
	}
	if got := stats[":QUEUED:"]; got.Calls != 2 || got.Failures != 2 || got.Dropped != 0 {
		t.Errorf("unexpected :QUEUED: stats %+v", got)
	}
}
