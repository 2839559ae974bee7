package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliproom/cliproom/pkg/wire"
)

// newIdleConn builds a real connection pair without starting the pumps, so
// the outbound queue fills instead of draining.
func newIdleConn(t *testing.T, config Config) (*Conn, *websocket.Conn) {
	t.Helper()

	sockCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sockCh <- sock
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	hub := NewHub(config, nil, nil, nil)
	c := newConn(hub, <-sockCh, "127.0.0.1")
	t.Cleanup(func() { c.close(websocket.CloseNormalClosure, "") })
	return c, client
}

func userListEvent(n int) wire.Event {
	return wire.Event{
		Type:    wire.EvUserList,
		Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	c, _ := newIdleConn(t, Config{})

	const extra = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendQueueSize+extra; i++ {
			c.enqueue(userListEvent(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("droppable enqueue blocked on a full queue")
	}

	require.Len(t, c.send, sendQueueSize)

	// The oldest events were discarded, so the head is the first survivor.
	head := <-c.send
	var payload struct {
		N int `json:"n"`
	}
	require.NoError(t, json.Unmarshal(head.Payload, &payload))
	assert.Equal(t, extra, payload.N)
}

func TestEnqueueMessageBackPressuresSender(t *testing.T) {
	c, _ := newIdleConn(t, Config{})

	for i := 0; i < sendQueueSize; i++ {
		c.enqueue(userListEvent(i))
	}

	delivered := make(chan struct{})
	go func() {
		c.enqueue(wire.Event{Type: wire.EvMessage, Payload: json.RawMessage(`{"content":"hi"}`)})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("message enqueue did not block on a full queue")
	case <-time.After(150 * time.Millisecond):
	}

	// Freeing one slot unblocks the sender and the message lands.
	<-c.send
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("message enqueue still blocked after a drain")
	}

	var last wire.Event
	for len(c.send) > 0 {
		last = <-c.send
	}
	assert.Equal(t, wire.EvMessage, last.Type)
}

func TestStalledConsumerDisconnected(t *testing.T) {
	c, client := newIdleConn(t, Config{SlowConsumerWait: 100 * time.Millisecond})

	for i := 0; i < sendQueueSize; i++ {
		c.enqueue(userListEvent(i))
	}

	// Nothing drains the queue, so the bounded wait expires and the peer
	// is dropped instead of stalling the sender forever.
	c.enqueue(wire.Event{Type: wire.EvMessage, Payload: json.RawMessage(`{"content":"hi"}`)})

	select {
	case <-c.done:
	default:
		t.Fatal("stalled connection was not closed")
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}
