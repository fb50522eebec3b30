package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer runs image and returns host:port for the exposed port.
func startContainer(t *testing.T, image, port, readyLog string) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{port + "/tcp"},
			WaitingFor:   wait.ForLog(readyLog).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port+"/tcp"))
	require.NoError(t, err)
	return host + ":" + mapped.Port()
}

type bridge interface {
	Broker
	Run(ctx context.Context) error
}

// assertCrossProcessDelivery publishes through one bridge and expects the
// message on a hub fed by a second, independent bridge.
func assertCrossProcessDelivery(t *testing.T, sender bridge, receiver bridge, receiverHub *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- sender.Run(ctx) }()
	go func() { errc <- receiver.Run(ctx) }()

	sub := receiverHub.Subscribe(testProjectTopic)
	defer sub.Close()

	var got Message
	require.Eventually(t, func() bool {
		_ = sender.Publish(ctx, Message{Type: TypeEventsBatch, Topic: testProjectTopic, Count: 5})
		select {
		case got = <-sub.C():
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, TypeEventsBatch, got.Type)
	assert.Equal(t, testProjectTopic, got.Topic)
	assert.Equal(t, 5, got.Count)

	cancel()
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errc)
	}
}

func TestRedisBridge_CrossProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startContainer(t, "redis:7-alpine", "6379", "Ready to accept connections")

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	hubA := NewHub(8, discardLogger())
	hubB := NewHub(8, discardLogger())

	assertCrossProcessDelivery(t,
		NewRedisBridge(newClient(), hubA, discardLogger()),
		NewRedisBridge(newClient(), hubB, discardLogger()),
		hubB)
}

func TestNATSBridge_CrossProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startContainer(t, "nats:2.10-alpine", "4222", "Server is ready")

	connect := func() *nats.Conn {
		nc, err := nats.Connect("nats://" + addr)
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		return nc
	}
	hubA := NewHub(8, discardLogger())
	hubB := NewHub(8, discardLogger())

	assertCrossProcessDelivery(t,
		NewNATSBridge(connect(), hubA, discardLogger()),
		NewNATSBridge(connect(), hubB, discardLogger()),
		hubB)
}
