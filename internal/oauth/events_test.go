package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribePublish(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("github")
	b.Publish(Event{Type: EventTokenRefresh, ServerName: "github"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventTokenRefresh, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishToUnrelatedServerNotDelivered(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("github")
	b.Publish(Event{Type: EventTokenRefresh, ServerName: "gitlab"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("github")
	b.Unsubscribe("github", ch)
	b.Publish(Event{Type: EventTokenRefresh, ServerName: "github"})

	select {
	case ev, ok := <-ch:
		require.False(t, ok, "channel should not receive after unsubscribe, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
