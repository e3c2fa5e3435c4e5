package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/pairlink/pairlink/internal/protocol"
)

// feed builds a handler whose Start loop runs against a hand-fed incoming
// stream. The returned done channel closes when Start has exited.
func feed(t *testing.T) (*Client, *Handler, chan struct{}) {
	t.Helper()
	c := NewClient("ws://unused")
	h := NewHandler(c)
	done := make(chan struct{})
	go func() {
		h.Start()
		close(done)
	}()
	return c, h, done
}

func env(t *testing.T, typ string, data any) *protocol.Envelope {
	t.Helper()
	e, err := protocol.NewEnvelope(typ, data)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestHandlerClosesChannelsWhenStreamEnds(t *testing.T) {
	c, h, done := feed(t)

	c.incoming <- env(t, protocol.TypeRegistrationSuccess, protocol.RegistrationSuccessPayload{SocketID: "s1"})
	select {
	case id := <-h.Registered:
		if id != "s1" {
			t.Errorf("Registered = %q, want s1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("registration never routed")
	}

	// The connection drops: the stream ends and every channel must close.
	close(c.incoming)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not exit after the stream ended")
	}

	if _, ok := <-h.Registered; ok {
		t.Error("Registered still open after Start exited")
	}
	if _, ok := <-h.Signal; ok {
		t.Error("Signal still open after Start exited")
	}
	if _, ok := <-h.RoomJoined; ok {
		t.Error("RoomJoined still open after Start exited")
	}
	if _, ok := <-h.UserLeft; ok {
		t.Error("UserLeft still open after Start exited")
	}
	if _, ok := <-h.ServerStats; ok {
		t.Error("ServerStats still open after Start exited")
	}
}

// Notification channels nobody reads must not wedge the router; ordered
// signaling keeps flowing past them.
func TestUnreadNotificationsDoNotStallSignaling(t *testing.T) {
	c, h, done := feed(t)

	for i := 0; i < 3; i++ {
		c.incoming <- env(t, protocol.TypeSearchStarted, struct{}{})
		c.incoming <- env(t, protocol.TypeNoMatch, struct{}{})
		c.incoming <- env(t, protocol.TypeUserLeft, protocol.UserLeftPayload{From: "x"})
		c.incoming <- env(t, protocol.TypeServerStats, protocol.ServerStatsPayload{Sessions: i})
		c.incoming <- env(t, protocol.TypeRegistrationSuccess, protocol.RegistrationSuccessPayload{SocketID: "s"})
	}
	c.incoming <- env(t, protocol.TypeOffer, protocol.SDPPayload{Type: "offer", SDP: "v=0"})

	select {
	case got := <-h.Signal:
		if got.Type != protocol.TypeOffer {
			t.Errorf("Signal delivered %q, want offer", got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("router stalled behind unread notification channels")
	}

	close(c.incoming)
	<-done
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient("ws://unused")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()

	select {
	case <-c.done:
	default:
		t.Error("Close did not signal done")
	}
}
