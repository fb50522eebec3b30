package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopics(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	assert.Equal(t, "events:11111111-1111-1111-1111-111111111111", ProjectTopic(id))
	assert.Equal(t, "events:org:11111111-1111-1111-1111-111111111111", OrgTopic(id))
}

func TestHub_PublishDeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub(4, discardLogger())
	a := hub.Subscribe("events:a")
	a2 := hub.Subscribe("events:a")
	b := hub.Subscribe("events:b")
	defer a.Close()
	defer a2.Close()
	defer b.Close()

	require.NoError(t, hub.Publish(context.Background(), Message{Type: TypeEventsBatch, Topic: "events:a", Count: 3}))

	for _, sub := range []*Subscription{a, a2} {
		select {
		case msg := <-sub.C():
			assert.Equal(t, 3, msg.Count)
		default:
			t.Fatal("expected message for subscriber of events:a")
		}
	}
	select {
	case msg := <-b.C():
		t.Fatalf("unexpected message on events:b: %+v", msg)
	default:
	}
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(1, discardLogger())
	sub := hub.Subscribe("events:a")
	defer sub.Close()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Message{Topic: "events:a", Count: 1}))
	require.NoError(t, hub.Publish(ctx, Message{Topic: "events:a", Count: 2}))

	msg := <-sub.C()
	assert.Equal(t, 1, msg.Count)
	select {
	case msg := <-sub.C():
		t.Fatalf("expected second message to be dropped, got %+v", msg)
	default:
	}
}

func TestHub_CloseSubscription(t *testing.T) {
	hub := NewHub(0, discardLogger())
	sub := hub.Subscribe("events:a")
	assert.Equal(t, 1, hub.SubscriberCount("events:a"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.SubscriberCount("events:a"))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")

	require.NoError(t, hub.Publish(context.Background(), Message{Topic: "events:a"}))
}

func TestHub_CloseEndsAllSubscriptions(t *testing.T) {
	hub := NewHub(0, discardLogger())
	a := hub.Subscribe("events:a")
	b := hub.Subscribe("events:b")

	hub.Close()
	hub.Close()

	for _, sub := range []*Subscription{a, b} {
		_, ok := <-sub.C()
		assert.False(t, ok)
		sub.Close()
	}

	late := hub.Subscribe("events:a")
	_, ok := <-late.C()
	assert.False(t, ok, "subscriptions after Close start closed")
	late.Close()
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub := NewHub(8, discardLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe("events:a")
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, Message{Topic: "events:a"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.SubscriberCount("events:a"))
}
