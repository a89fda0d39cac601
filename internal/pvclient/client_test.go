package pvclient

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/beamsim/spearsim/internal/protocol"
)

func TestDispatcherRegisterAndDispatch(t *testing.T) {
	d := newResponseDispatcher()

	ch := d.Register("corr-123")
	if d.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", d.PendingCount())
	}

	msg := &protocol.Message{
		Envelope: protocol.Envelope{CorrelationID: "corr-123"},
	}

	ok := d.Dispatch(msg)
	if !ok {
		t.Fatal("expected dispatch to succeed")
	}

	select {
	case got := <-ch:
		if got.Envelope.CorrelationID != "corr-123" {
			t.Errorf("expected corr-123, got %s", got.Envelope.CorrelationID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}

	if d.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after dispatch, got %d", d.PendingCount())
	}
}

func TestDispatcherDispatchUnknown(t *testing.T) {
	d := newResponseDispatcher()
	msg := &protocol.Message{
		Envelope: protocol.Envelope{CorrelationID: "unknown"},
	}
	ok := d.Dispatch(msg)
	if ok {
		t.Fatal("expected dispatch to return false for unknown correlation ID")
	}
}

func TestDispatcherDeregister(t *testing.T) {
	d := newResponseDispatcher()
	d.Register("corr-456")
	if d.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", d.PendingCount())
	}

	d.Deregister("corr-456")
	if d.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after deregister, got %d", d.PendingCount())
	}
}

func TestDispatcherDeregisterUnknown(t *testing.T) {
	d := newResponseDispatcher()
	// Should not panic
	d.Deregister("nonexistent")
}

func TestDispatcherConcurrentAccess(t *testing.T) {
	d := newResponseDispatcher()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("corr-%d", i)
			ch := d.Register(id)
			msg := &protocol.Message{
				Envelope: protocol.Envelope{CorrelationID: id},
			}
			d.Dispatch(msg)
			<-ch
		}(i)
	}
	wg.Wait()

	if d.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after concurrent test, got %d", d.PendingCount())
	}
}

func TestWriteOutcomeAccepted(t *testing.T) {
	o := WriteOutcome{Name: "beamCurrentDesired", Requested: "480", Stored: "480"}
	if !o.Accepted() {
		t.Error("expected accepted when stored matches request")
	}

	o.Stored = "500"
	if o.Accepted() {
		t.Error("expected not accepted when value was clamped")
	}
}

func TestRemoteErrorFormat(t *testing.T) {
	err := &RemoteError{Code: "READ_ONLY", Message: "variable is read-only"}
	expected := "[READ_ONLY] variable is read-only"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestClientResponseChannel(t *testing.T) {
	c := New(nil, protocol.Source{Service: "spearsim_ctl", Instance: "ctl-01", Version: "1.0.0"}, "spear-01")
	expected := "responses:spearsim_ctl:ctl-01"
	if c.ResponseChannel() != expected {
		t.Errorf("expected %q, got %q", expected, c.ResponseChannel())
	}
}
