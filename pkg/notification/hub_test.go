package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EcMarius/numz.ai-sub009/pkg/notification"
)

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed before a value arrived")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a value")
		return ""
	}
}

func TestHub_FanOut(t *testing.T) {
	t.Parallel()

	hub := notification.NewHub[string](4)
	t.Cleanup(hub.Close)

	a := hub.Subscribe(context.Background())
	b := hub.Subscribe(context.Background())

	hub.Publish("hello")

	assert.Equal(t, "hello", recv(t, a.C()))
	assert.Equal(t, "hello", recv(t, b.C()))
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	hub := notification.NewHub[string](1)
	t.Cleanup(hub.Close)

	slow := hub.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Publish("first")
		hub.Publish("second") // buffer full, dropped for slow
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, "first", recv(t, slow.C()))
	select {
	case v := <-slow.C():
		t.Fatalf("expected second value to be dropped, got %q", v)
	default:
	}
}

func TestHub_SubscriptionClose(t *testing.T) {
	t.Parallel()

	hub := notification.NewHub[string](1)
	t.Cleanup(hub.Close)

	sub := hub.Subscribe(context.Background())
	sub.Close()
	sub.Close() // idempotent

	_, ok := <-sub.C()
	assert.False(t, ok)

	// Publishing after detach must not panic.
	hub.Publish("ignored")
}

func TestHub_ContextCancelDetaches(t *testing.T) {
	t.Parallel()

	hub := notification.NewHub[string](1)
	t.Cleanup(hub.Close)

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not detached on context cancel")
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	hub := notification.NewHub[string](1)
	sub := hub.Subscribe(context.Background())
	hub.Close()
	hub.Close() // idempotent

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := hub.Subscribe(context.Background())
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing to a closed hub yields a closed subscription")
}
