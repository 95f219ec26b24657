package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/natsflow/internal/runtime/embedded"
	"github.com/drblury/natsflow/transport"
)

type mockConfig struct {
	natsURL string
	opts    []nats.Option
}

func (m *mockConfig) GetTransport() string       { return TransportName }
func (m *mockConfig) GetNATSURL() string         { return m.natsURL }
func (m *mockConfig) NATSOptions() []nats.Option { return m.opts }

func runServer(t *testing.T) string {
	t.Helper()
	ns, err := embedded.Start(embedded.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestRegisteredOnImport(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.True(t, transport.DefaultRegistry.Has(WatermillTransportName))
	assert.Equal(t, transport.NATSCapabilities, transport.GetCapabilities(TransportName))
	assert.Equal(t, transport.WatermillNATSCapabilities, transport.GetCapabilities(WatermillTransportName))
	assert.Equal(t, transport.NATSCapabilities, Capabilities())
}

func TestBuildRoundTrip(t *testing.T) {
	url := runServer(t)

	conn, err := Build(context.Background(), &mockConfig{natsURL: url, opts: []nats.Option{nats.Name("round-trip")}}, watermill.NopLogger{})
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := conn.Subscribe("orders.*", func(msg *nats.Msg) { received <- msg })
	require.NoError(t, err)
	assert.Equal(t, "orders.*", sub.Subject())
	assert.True(t, sub.IsValid())
	require.NoError(t, conn.Flush())

	msg := nats.NewMsg("orders.created")
	msg.Data = []byte("payload")
	msg.Header.Set("Trace-Id", "t-1")
	require.NoError(t, conn.PublishMsg(msg))

	select {
	case got := <-received:
		assert.Equal(t, "orders.created", got.Subject)
		assert.Equal(t, "payload", string(got.Data))
		assert.Equal(t, "t-1", got.Header.Get("Trace-Id"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	typed, ok := conn.(*Conn)
	require.True(t, ok)
	assert.Equal(t, "round-trip", typed.NATS().Opts.Name)
	assert.Equal(t, transport.NATSCapabilities, typed.Capabilities())

	conn.Close()
	assert.True(t, conn.IsClosed())
	assert.Error(t, conn.Publish("orders.created", nil))
}

func TestBuildUsesConnector(t *testing.T) {
	original := Connector
	defer func() { Connector = original }()

	dialErr := errors.New("no servers available for connection")
	var gotURL string
	var gotOpts int
	Connector = func(url string, opts ...nats.Option) (*nats.Conn, error) {
		gotURL = url
		gotOpts = len(opts)
		return nil, dialErr
	}

	_, err := Build(context.Background(), &mockConfig{natsURL: "nats://a:4222,nats://b:4222", opts: []nats.Option{nats.Name("x")}}, watermill.NopLogger{})
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, "nats://a:4222,nats://b:4222", gotURL)
	assert.Equal(t, 1+len(transport.NATSEventOptions(watermill.NopLogger{})), gotOpts)
}

func TestBuildHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, &mockConfig{natsURL: "nats://localhost:4222"}, watermill.NopLogger{})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = BuildWatermill(ctx, &mockConfig{natsURL: "nats://localhost:4222"}, watermill.NopLogger{})
	assert.ErrorIs(t, err, context.Canceled)
}
