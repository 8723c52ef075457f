package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/catalogbridge/catalog"
	"github.com/maxpert/catalogbridge/cfg"
	"github.com/maxpert/catalogbridge/checkpoint"
	"github.com/maxpert/catalogbridge/publisher"
	_ "github.com/maxpert/catalogbridge/publisher/transformer"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "all_games_json"

// startJetStream runs an embedded JetStream server with the test topic provisioned
func startJetStream(t *testing.T) (string, jetstream.Stream) {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     testTopic,
		Subjects: []string{testTopic},
		Storage:  jetstream.MemoryStorage,
	})
	require.NoError(t, err)

	return srv.ClientURL(), stream
}

func streamMsgs(t *testing.T, stream jetstream.Stream) uint64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	return info.State.Msgs
}

type outcomes struct {
	mu    sync.Mutex
	acks  []publisher.Ack
	nacks []publisher.Nack
}

func (o *outcomes) onAck(a publisher.Ack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acks = append(o.acks, a)
}

func (o *outcomes) onNack(n publisher.Nack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nacks = append(o.nacks, n)
}

func (o *outcomes) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.acks), len(o.nacks)
}

func jsonEvent(key, payload string) publisher.Event {
	return publisher.Event{Key: key, Payload: []byte(payload), Mimetype: "application/json"}
}

func TestNatsSink_TopicExists(t *testing.T) {
	url, _ := startJetStream(t)

	sink, err := NewNatsSink(NatsConfig{URL: url})
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()

	exists, err := sink.TopicExists(ctx, testTopic)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sink.TopicExists(ctx, "missing_topic")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNatsSink_PublishAsync(t *testing.T) {
	url, stream := startJetStream(t)

	sink, err := NewNatsSink(NatsConfig{URL: url, MaxPending: 16})
	require.NoError(t, err)

	out := &outcomes{}
	for i, key := range []string{"10", "20", "30"} {
		payload := `{"id":` + key + `,"game":"Game"}`
		require.NoError(t, sink.PublishAsync(testTopic, jsonEvent(key, payload), out.onAck, out.onNack), "event %d", i)
	}

	require.NoError(t, sink.Close())

	acks, nacks := out.counts()
	assert.Equal(t, 3, acks)
	assert.Equal(t, 0, nacks)
	assert.Equal(t, testTopic, out.acks[0].Stream)
	assert.Equal(t, "10", out.acks[0].Key)
	assert.Equal(t, uint64(3), streamMsgs(t, stream))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))
	assert.Equal(t, testTopic+"-10", msg.Header.Get("Nats-Msg-Id"))
	assert.JSONEq(t, `{"id":10,"game":"Game"}`, string(msg.Data))
}

func TestNatsSink_DeduplicatesReplayedKeys(t *testing.T) {
	url, stream := startJetStream(t)

	sink, err := NewNatsSink(NatsConfig{URL: url})
	require.NoError(t, err)

	out := &outcomes{}
	require.NoError(t, sink.PublishAsync(testTopic, jsonEvent("10", `{"id":10,"game":"A"}`), out.onAck, out.onNack))
	require.NoError(t, sink.PublishAsync(testTopic, jsonEvent("10", `{"id":10,"game":"A"}`), out.onAck, out.onNack))
	require.NoError(t, sink.Close())

	acks, _ := out.counts()
	assert.Equal(t, 2, acks)
	assert.Equal(t, uint64(1), streamMsgs(t, stream))
}

func TestNatsSink_NackWithoutStream(t *testing.T) {
	url, _ := startJetStream(t)

	sink, err := NewNatsSink(NatsConfig{URL: url})
	require.NoError(t, err)
	defer sink.Close()

	out := &outcomes{}
	require.NoError(t, sink.PublishAsync("no_such_stream", jsonEvent("1", `{}`), out.onAck, out.onNack))

	assert.Eventually(t, func() bool {
		_, nacks := out.counts()
		return nacks == 1
	}, 5*time.Second, 20*time.Millisecond)

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, "1", out.nacks[0].Key)
	assert.NotEmpty(t, out.nacks[0].Message)
	assert.Empty(t, out.acks)
}

func TestNatsSink_PublishAfterClose(t *testing.T) {
	url, _ := startJetStream(t)

	sink, err := NewNatsSink(NatsConfig{URL: url})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second close is a no-op")

	err = sink.PublishAsync(testTopic, jsonEvent("1", `{}`), nil, nil)
	assert.Error(t, err)
}

type staticCatalog []catalog.Entry

func (s staticCatalog) Fetch(ctx context.Context) ([]catalog.Entry, error) {
	return s, nil
}

func TestNatsRegistry_EndToEnd(t *testing.T) {
	url, stream := startJetStream(t)

	c := cfg.Default()
	c.Broker.Type = cfg.BrokerNATS
	c.Broker.NATSURL = url
	c.Publisher.Format = "json"
	c.Publisher.ExcludeNames = []string{"*Soundtrack"}

	store := checkpoint.NewMemoryStore(1)
	clock := clockwork.NewFakeClock()
	reg, err := publisher.NewRegistry(publisher.RegistryConfig{
		Config: c,
		Source: staticCatalog{
			catalog.NewEntry(10, "Counter-Strike"),
			catalog.NewEntry(20, "Team Fortress Classic"),
			catalog.NewEntry(30, "Half-Life Soundtrack"),
			catalog.NewEntry(40, ""),
			catalog.NewEntry(50, "Ricochet"),
		},
		Checkpoint: store,
		Clock:      clock,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, reg.Close())

	pos, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, pos)

	// 20 and 50 published; 10 was behind the checkpoint, 30 filtered, 40 incomplete
	assert.Equal(t, uint64(2), streamMsgs(t, stream))
	stats := reg.Loop().Tracker().Stats()
	assert.Equal(t, uint64(2), stats.Acked)
	assert.Equal(t, uint64(0), stats.InFlight())
}
