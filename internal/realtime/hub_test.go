package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	published []string
	handlers  map[uuid.UUID]func(string, []byte)
	cancelled []uuid.UUID
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[uuid.UUID]func(string, []byte){}}
}

func (b *fakeBus) PublishWebinarEvent(ctx context.Context, webinarID uuid.UUID, event string, payload []byte) error {
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBus) SubscribeWebinar(webinarID uuid.UUID, handler func(string, []byte)) (func(), error) {
	b.handlers[webinarID] = handler
	return func() { b.cancelled = append(b.cancelled, webinarID) }, nil
}

func recordEvents(c *Client) *[]string {
	var got []string
	c.OnEvent(func(event string, data json.RawMessage) { got = append(got, event) })
	return &got
}

func TestHub_PublishWithoutRedisDeliversLocally(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	webinarID := uuid.New()
	a, b := NewClient(hub, nil, webinarID, nil), NewClient(hub, nil, webinarID, nil)
	other := NewClient(hub, nil, uuid.New(), nil)
	gotA, gotB, gotOther := recordEvents(a), recordEvents(b), recordEvents(other)
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	require.NoError(t, hub.Publish(context.Background(), webinarID, EventMessagesUpdated, map[string]string{}))
	assert.Equal(t, []string{EventMessagesUpdated}, *gotA)
	assert.Equal(t, []string{EventMessagesUpdated}, *gotB)
	assert.Empty(t, *gotOther)
	assert.Equal(t, 2, hub.AudienceCount(webinarID))
}

func TestHub_PublishWithRedisDeliversThroughSubscription(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(nil, bus, bus)
	webinarID := uuid.New()
	c := NewClient(hub, nil, webinarID, nil)
	got := recordEvents(c)
	hub.Register(c)

	require.NoError(t, hub.Publish(context.Background(), webinarID, EventMessagesUpdated, nil))
	assert.Equal(t, []string{EventMessagesUpdated}, bus.published)
	assert.Empty(t, *got)

	bus.handlers[webinarID](EventMessagesUpdated, []byte(`{}`))
	assert.Equal(t, []string{EventMessagesUpdated}, *got)
}

func TestHub_SubscriptionFollowsRoomLifetime(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(nil, bus, bus)
	webinarID := uuid.New()
	a, b := NewClient(hub, nil, webinarID, nil), NewClient(hub, nil, webinarID, nil)

	hub.Register(a)
	hub.Register(b)
	assert.Len(t, bus.handlers, 1)

	hub.Unregister(a)
	assert.Empty(t, bus.cancelled)
	hub.Unregister(b)
	assert.Equal(t, []uuid.UUID{webinarID}, bus.cancelled)
	assert.Zero(t, hub.AudienceCount(webinarID))
}

func TestClient_SendReportsSlowConsumer(t *testing.T) {
	c := NewClient(NewHub(nil, nil, nil), nil, uuid.New(), nil)
	for i := 0; i < cap(c.send); i++ {
		require.NoError(t, c.Send("state", i))
	}
	assert.ErrorIs(t, c.Send("state", 0), ErrSlowConsumer)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := NewUpgrader([]string{"https://shop.example.com"})
	req := func(origin string) bool {
		r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return up.CheckOrigin(r)
	}
	assert.True(t, req("https://shop.example.com"))
	assert.True(t, req(""))
	assert.False(t, req("https://evil.example.com"))
}
