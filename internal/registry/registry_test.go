package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/alfredjeanlab/carts/internal/events"
	"github.com/alfredjeanlab/carts/internal/model"
)

// fakeConn records every payload it is sent. A non-nil sendErr makes every
// send fail; block makes sends wait for ctx.
type fakeConn struct {
	id      string
	sendErr error
	block   bool

	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	for i, p := range c.payloads {
		out[i] = string(p)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func movement(id int64) events.Message {
	return events.NewMovement(&model.Event{ID: id, DeviceID: 4, ClientID: 7, Operation: 1})
}

func TestRegistry_BroadcastReachesAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := New(time.Second, nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	r.Register(a)
	r.Register(b)

	r.Broadcast(context.Background(), movement(1))

	for _, c := range []*fakeConn{a, b} {
		got := c.received()
		if len(got) != 1 {
			t.Fatalf("%s received %d messages, want 1", c.id, len(got))
		}
		var msg events.EventMessage
		if err := json.Unmarshal([]byte(got[0]), &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Tipo != events.TypeMovement || msg.Event.ID != 1 {
			t.Errorf("%s got %s", c.id, got[0])
		}
	}
}

func TestRegistry_EmptyBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := New(time.Second, nil)
	r.Broadcast(context.Background(), movement(1))
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := New(time.Second, nil)
	c := newFakeConn("a")
	r.Register(c)

	r.Unregister(c)
	r.Unregister(c)
	r.Unregister(newFakeConn("never-registered"))

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	r.Broadcast(context.Background(), movement(1))
	if got := c.received(); len(got) != 0 {
		t.Errorf("unregistered conn received %v", got)
	}
	if c.isClosed() {
		t.Error("Unregister must not close the connection")
	}
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := New(time.Second, nil)
	c := newFakeConn("a")
	r.Register(c)
	r.Register(c)

	r.Broadcast(context.Background(), movement(1))
	if got := c.received(); len(got) != 1 {
		t.Errorf("received %d messages, want 1", len(got))
	}
}

func TestRegistry_FailedSendRemovesConn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := New(time.Second, nil)
	good := newFakeConn("good")
	bad := &fakeConn{id: "bad", sendErr: errors.New("broken pipe")}
	r.Register(good)
	r.Register(bad)

	r.Broadcast(context.Background(), movement(1))

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	if !bad.isClosed() {
		t.Error("failed connection was not closed")
	}
	if got := good.received(); len(got) != 1 {
		t.Errorf("good conn received %d messages, want 1", len(got))
	}

	// The removed connection is not attempted again.
	bad.sendErr = nil
	r.Broadcast(context.Background(), movement(2))
	if got := bad.received(); len(got) != 0 {
		t.Errorf("removed conn received %v", got)
	}
	if got := good.received(); len(got) != 2 {
		t.Errorf("good conn received %d messages, want 2", len(got))
	}
}

func TestRegistry_SlowConnTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := New(50*time.Millisecond, nil)
	slow := &fakeConn{id: "slow", block: true}
	fast := newFakeConn("fast")
	r.Register(slow)
	r.Register(fast)

	start := time.Now()
	r.Broadcast(context.Background(), movement(1))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Broadcast took %v, want bounded by send timeout", elapsed)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after slow conn timed out", r.Len())
	}
	if got := fast.received(); len(got) != 1 {
		t.Errorf("fast conn received %d messages, want 1", len(got))
	}
}

func TestRegistry_CanceledCallerStillDelivers(t *testing.T) {
	r := New(time.Second, nil)
	c := newFakeConn("a")
	r.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Broadcast(ctx, movement(1))

	if got := c.received(); len(got) != 1 {
		t.Errorf("received %d messages, want 1", len(got))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_SequentialOrdering(t *testing.T) {
	r := New(time.Second, nil)
	c := newFakeConn("a")
	r.Register(c)

	for i := int64(1); i <= 50; i++ {
		r.Broadcast(context.Background(), movement(i))
	}

	got := c.received()
	if len(got) != 50 {
		t.Fatalf("received %d messages, want 50", len(got))
	}
	for i, raw := range got {
		var msg events.EventMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Event.ID != int64(i+1) {
			t.Fatalf("message %d has event %d, want %d", i, msg.Event.ID, i+1)
		}
	}
}

func TestRegistry_ConcurrentMutationAndBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := New(time.Second, nil)
	stable := newFakeConn("stable")
	r.Register(stable)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("churn-%d", i))
			r.Register(c)
			r.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			r.Broadcast(context.Background(), movement(int64(i)))
		}()
	}
	wg.Wait()

	if got := stable.received(); len(got) != 20 {
		t.Errorf("stable conn received %d messages, want 20", len(got))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Close(t *testing.T) {
	r := New(time.Second, nil)
	a := newFakeConn("a")
	r.Register(a)

	r.Close()
	if !a.isClosed() || r.Len() != 0 {
		t.Fatalf("Close left closed=%v len=%d", a.isClosed(), r.Len())
	}

	late := newFakeConn("late")
	r.Register(late)
	if !late.isClosed() || r.Len() != 0 {
		t.Errorf("registration after Close: closed=%v len=%d", late.isClosed(), r.Len())
	}
}
