package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSPublisher_BooksRecommended(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewNATSPublisher(nc, "", nil)
	assert.Equal(t, "bookrec.books.recommended", pub.BooksSubject())

	sub, err := nc.SubscribeSync(pub.BooksSubject())
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	ev := BooksRecommended{
		RunID:           "run-1",
		UserID:          7,
		Recommendations: []catalog.HybridResult{{BookTitle: "Dune", HybridScore: 0.8}},
		Persisted:       true,
		At:              time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.BooksRecommended(context.Background(), ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var got BooksRecommended
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "Dune", got.Recommendations[0].BookTitle)
	assert.True(t, got.Persisted)
}

func TestNATSPublisher_GoalsComputedCustomPrefix(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewNATSPublisher(nc, "staging", nil)
	sub, err := nc.SubscribeSync("staging.goals.computed")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, pub.GoalsComputed(context.Background(), GoalsComputed{RunID: "r", UserCount: 3, InactiveCount: 1}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got GoalsComputed
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, 3, got.UserCount)
	assert.Nil(t, got.UserID)

	// Borrowed connection stays open.
	require.NoError(t, pub.Close())
	assert.True(t, nc.IsConnected())
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewNATSPublisher(nc, "", nil).GoalsComputed(ctx, GoalsComputed{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_OwnsConnection(t *testing.T) {
	server := startTestNATSServer(t)

	pub, err := Connect(server.ClientURL(), "bookrec", nil)
	require.NoError(t, err)
	assert.NoError(t, pub.Close())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.BooksRecommended(context.Background(), BooksRecommended{}))
	assert.NoError(t, p.GoalsComputed(context.Background(), GoalsComputed{}))
	assert.NoError(t, p.Close())
}
