package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
)

func newTestFactory(t *testing.T, opts ...FactoryOption) (*DefaultContainerFactory, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	f, err := NewDefaultContainerFactory(&fakeProvider{conn: conn}, nil, opts...)
	require.NoError(t, err)
	return f, conn
}

func TestNewDefaultContainerFactoryRequiresProvider(t *testing.T) {
	_, err := NewDefaultContainerFactory(nil, nil)
	assert.ErrorIs(t, err, rterrors.ErrConnectionProviderRequired)
}

func TestFactoryValidatesEndpoint(t *testing.T) {
	f, _ := newTestFactory(t)

	_, err := f.CreateListenerContainer(nil)
	assert.ErrorIs(t, err, rterrors.ErrEndpointRequired)

	_, err = f.CreateListenerContainer(&Endpoint{Subjects: []string{"a"}})
	assert.ErrorIs(t, err, rterrors.ErrEndpointIDRequired)

	_, err = f.CreateListenerContainer(&Endpoint{ID: "x"})
	assert.ErrorIs(t, err, rterrors.ErrSubjectsRequired)

	_, err = f.CreateListenerContainer(&Endpoint{ID: "x", Subjects: []string{"a"}})
	assert.ErrorIs(t, err, rterrors.ErrListenerRequired)
}

func TestFactoryCopiesDefaultsButNotSubjectsOrListener(t *testing.T) {
	handler := listener.ErrorHandlerFunc(func(error, *nats.Msg) error { return nil })
	f, _ := newTestFactory(t, WithErrorHandler(handler), WithShutdownTimeout(3*time.Second))
	f.ContainerProperties().Listener = listener.MessageListenerFunc(func(context.Context, *nats.Msg) error { return errBoom })

	c, err := f.CreateListenerContainer(testEndpoint("orders", "orders.created", "orders.updated"))
	require.NoError(t, err)

	dc, ok := c.(*listener.DefaultContainer)
	require.True(t, ok)
	props := dc.Properties()
	assert.Equal(t, []string{"orders.created", "orders.updated"}, props.Subjects())
	assert.Equal(t, 3*time.Second, props.ShutdownTimeout)
	assert.NotNil(t, props.ErrorHandler)
	require.NotNil(t, props.Listener)
	assert.NoError(t, props.Listener.OnMessage(context.Background(), &nats.Msg{}))

	assert.Equal(t, "orders", c.ID())
	assert.False(t, c.IsRunning())
	assert.True(t, c.IsAutoStartup())
	assert.Equal(t, 0, c.Phase())
}

func TestFactoryAutoStartupAndPhase(t *testing.T) {
	f, _ := newTestFactory(t, WithAutoStartup(false), WithPhase(3))

	c, err := f.CreateListenerContainer(testEndpoint("a"))
	require.NoError(t, err)
	assert.False(t, c.IsAutoStartup())
	assert.Equal(t, 3, c.Phase())

	e := testEndpoint("b")
	on, phase := true, 9
	e.AutoStartup = &on
	e.Phase = &phase
	c, err = f.CreateListenerContainer(e)
	require.NoError(t, err)
	assert.True(t, c.IsAutoStartup())
	assert.Equal(t, 9, c.Phase())
}

func TestFactoryAppliesFilterStrategy(t *testing.T) {
	metrics := listener.NewMetrics(prometheus.NewRegistry())
	dropAll := listener.FilterFunc(func(*nats.Msg) bool { return true })
	f, conn := newTestFactory(t,
		WithFilterStrategy(dropAll),
		WithContainerMetrics(metrics),
		WithContainerTracer(noop.NewTracerProvider().Tracer("test")),
	)

	var received []string
	e := testEndpoint("orders", "orders.created")
	e.Listener = listener.MessageListenerFunc(func(_ context.Context, msg *nats.Msg) error {
		received = append(received, string(msg.Data))
		return nil
	})

	c, err := f.CreateListenerContainer(e)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	conn.deliver(&nats.Msg{Subject: "orders.created", Data: []byte("x")})

	assert.Empty(t, received)
	stats := metrics.Stats("orders")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Filtered)
	assert.Equal(t, uint64(1), stats.Received)
}

func TestFactoryEndpointFilterOverridesDefault(t *testing.T) {
	dropAll := listener.FilterFunc(func(*nats.Msg) bool { return true })
	f, conn := newTestFactory(t, WithFilterStrategy(dropAll))

	var received []string
	e := testEndpoint("tenant", "events")
	e.Filter = listener.HeaderFilter("tenant", "acme")
	e.Listener = listener.MessageListenerFunc(func(_ context.Context, msg *nats.Msg) error {
		received = append(received, string(msg.Data))
		return nil
	})

	c, err := f.CreateListenerContainer(e)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	acme := nats.NewMsg("events")
	acme.Header.Set("tenant", "acme")
	acme.Data = []byte("acme")
	other := nats.NewMsg("events")
	other.Header.Set("tenant", "globex")
	other.Data = []byte("globex")

	conn.deliver(acme)
	conn.deliver(other)

	assert.Equal(t, []string{"acme"}, received)
}

func TestFactoryRunsHooksForUnfilteredMessages(t *testing.T) {
	var started, failed []string
	f, conn := newTestFactory(t,
		WithFilterStrategy(listener.HeaderFilter("tenant", "acme")),
		WithHooks(listener.Hooks{OnStart: func(ev listener.InvocationEvent) { started = append(started, ev.Container) }}),
		WithHooks(listener.Hooks{OnError: func(ev listener.InvocationEvent, _ error) { failed = append(failed, ev.Subject) }}),
	)

	e := testEndpoint("tenant", "events")
	e.Listener = listener.MessageListenerFunc(func(context.Context, *nats.Msg) error { return errBoom })

	c, err := f.CreateListenerContainer(e)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	other := nats.NewMsg("events")
	other.Header.Set("tenant", "other")
	conn.deliver(other)
	acme := nats.NewMsg("events")
	acme.Header.Set("tenant", "acme")
	conn.deliver(acme)

	assert.Equal(t, []string{"tenant"}, started)
	assert.Equal(t, []string{"events"}, failed)
}

func TestEndpointDefaults(t *testing.T) {
	l := listener.MessageListenerFunc(func(context.Context, *nats.Msg) error { return nil })
	e := NewEndpoint(l, "orders.created", "orders.updated")

	assert.Contains(t, e.ID, "natsflow-listener#orders.created#")
	assert.Equal(t, []string{"orders.created", "orders.updated"}, e.Subjects)
	assert.NoError(t, e.Validate())
	assert.Contains(t, e.String(), "orders.created")

	assert.NotEqual(t, e.ID, NewEndpoint(l, "orders.created").ID)

	var nilEndpoint *Endpoint
	assert.ErrorIs(t, nilEndpoint.Validate(), rterrors.ErrEndpointRequired)
}
