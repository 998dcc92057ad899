package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listener(h *Hub, sessionID uuid.UUID) *Client {
	c := &Client{ID: uuid.New().String(), SessionID: sessionID, hub: h, send: make(chan WSMessage, 4)}
	h.Register(c)
	return c
}

func TestBroadcastReachesOnlyTheSession(t *testing.T) {
	h := NewHub(nil, nil, nil)
	a, b := uuid.New(), uuid.New()
	ca := listener(h, a)
	cb := listener(h, b)

	h.Publish(a, "highlight", map[string]string{"type": "epic_moment"})

	require.Len(t, ca.send, 1)
	assert.Empty(t, cb.send)
	msg := <-ca.send
	assert.Equal(t, "highlight", msg.Event)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "epic_moment", body["type"])
}

func TestUnregisterClosesAndForgetsEmptyRooms(t *testing.T) {
	h := NewHub(nil, nil, nil)
	id := uuid.New()
	c := listener(h, id)
	assert.Equal(t, 1, h.ListenerCount(id))

	h.Unregister(c)
	assert.Equal(t, 0, h.ListenerCount(id))
	_, open := <-c.send
	assert.False(t, open)

	// a second unregister is harmless
	h.Unregister(c)
}

type fakeBridge struct {
	published []string
	handlers  map[uuid.UUID]func(string, []byte)
	cancelled int
	fail      bool
}

func (f *fakeBridge) PublishSessionEvent(id uuid.UUID, event string, payload []byte) error {
	if f.fail {
		return errors.New("redis down")
	}
	f.published = append(f.published, event)
	if h := f.handlers[id]; h != nil {
		h(event, payload)
	}
	return nil
}

func (f *fakeBridge) SubscribeSession(id uuid.UUID, handler func(string, []byte)) (func(), error) {
	f.handlers[id] = handler
	return func() { f.cancelled++ }, nil
}

func TestPublishGoesThroughRedisOnce(t *testing.T) {
	bridge := &fakeBridge{handlers: map[uuid.UUID]func(string, []byte){}}
	h := NewHub(nil, bridge, bridge)
	id := uuid.New()
	c := listener(h, id)

	h.Publish(id, "interaction", map[string]int{"n": 1})

	assert.Equal(t, []string{"interaction"}, bridge.published)
	assert.Len(t, c.send, 1)

	h.Unregister(c)
	assert.Equal(t, 1, bridge.cancelled)
}

func TestPublishFallsBackToLocalWhenRedisFails(t *testing.T) {
	bridge := &fakeBridge{handlers: map[uuid.UUID]func(string, []byte){}, fail: true}
	h := NewHub(nil, bridge, bridge)
	id := uuid.New()
	c := listener(h, id)

	h.Publish(id, "session_closed", map[string]string{"id": id.String()})
	assert.Len(t, c.send, 1)
}
