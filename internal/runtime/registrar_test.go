package runtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
)

type countingCatalog struct {
	factories FactoryMap
	lookups   int
}

func (c *countingCatalog) LookupFactory(name string) (ContainerFactory, bool) {
	c.lookups++
	return c.factories.LookupFactory(name)
}

func newTestRegistrar(t *testing.T) (*Registrar, *EndpointRegistry) {
	t.Helper()
	registry := NewEndpointRegistry(nil)
	r, err := NewRegistrar(registry, nil)
	require.NoError(t, err)
	return r, registry
}

func TestNewRegistrarRequiresRegistry(t *testing.T) {
	_, err := NewRegistrar(nil, nil)
	assert.ErrorIs(t, err, rterrors.ErrRegistryRequired)
}

func TestRegistrarBuffersUntilFlush(t *testing.T) {
	r, registry := newTestRegistrar(t)
	f := newFakeFactory()
	r.SetContainerFactory(f)

	const k = 4
	for i := 0; i < k; i++ {
		require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint(fmt.Sprintf("e%d", i)), nil))
	}
	assert.Equal(t, k, r.Pending())
	assert.Empty(t, registry.ListenerContainerIDs())
	assert.False(t, r.IsFlushed())

	require.NoError(t, r.Flush(context.Background()))

	assert.True(t, r.IsFlushed())
	assert.Zero(t, r.Pending())
	require.Len(t, registry.ListenerContainerIDs(), k)
	for _, c := range registry.ListenerContainers() {
		assert.False(t, c.IsRunning())
		require.NoError(t, c.Start(context.Background()))
		assert.True(t, c.IsRunning())
	}
}

func TestRegistrarRegistersImmediatelyAfterFlush(t *testing.T) {
	r, registry := newTestRegistrar(t)
	r.SetContainerFactory(newFakeFactory())
	require.NoError(t, r.Flush(context.Background()))

	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("late"), nil))

	c := registry.ListenerContainer("late")
	require.NotNil(t, c)
	assert.True(t, c.IsRunning())
	assert.Zero(t, r.Pending())
}

func TestRegistrarValidatesEndpoint(t *testing.T) {
	r, _ := newTestRegistrar(t)
	assert.ErrorIs(t, r.RegisterEndpoint(context.Background(), nil, nil), rterrors.ErrEndpointRequired)
	assert.ErrorIs(t, r.RegisterEndpoint(context.Background(), &Endpoint{}, nil), rterrors.ErrEndpointIDRequired)
	assert.Zero(t, r.Pending())
}

func TestRegistrarFactoryPrecedence(t *testing.T) {
	explicit := newFakeFactory()
	fallback := newFakeFactory()
	named := newFakeFactory()
	catalog := &countingCatalog{factories: FactoryMap{DefaultContainerFactoryName: named}}

	r, _ := newTestRegistrar(t)
	r.SetFactoryCatalog(catalog)
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("explicit"), explicit))
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("named-1"), nil))
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("named-2"), nil))
	require.NoError(t, r.Flush(context.Background()))

	assert.Equal(t, []string{"explicit"}, explicit.createdIDs())
	assert.Equal(t, []string{"named-1", "named-2"}, named.createdIDs())
	assert.Equal(t, 1, catalog.lookups, "the looked-up factory is cached")

	r.SetContainerFactory(fallback)
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("default"), nil))
	assert.Equal(t, []string{"default"}, fallback.createdIDs())
}

func TestRegistrarCustomFactoryName(t *testing.T) {
	custom := newFakeFactory()
	r, registry := newTestRegistrar(t)
	r.SetFactoryCatalog(FactoryMap{"custom": custom})
	r.SetContainerFactoryName("custom")

	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("a"), nil))
	require.NoError(t, r.Flush(context.Background()))

	assert.Equal(t, []string{"a"}, custom.createdIDs())
	assert.NotNil(t, registry.ListenerContainer("a"))
}

func TestRegistrarNoFactoryResolvable(t *testing.T) {
	r, registry := newTestRegistrar(t)
	good := newFakeFactory()

	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("orphan"), nil))
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("ok"), good))

	err := r.Flush(context.Background())
	assert.ErrorIs(t, err, rterrors.ErrNoFactoryResolvable)
	assert.True(t, r.IsFlushed())
	assert.Equal(t, []string{"ok"}, registry.ListenerContainerIDs())

	err = r.RegisterEndpoint(context.Background(), testEndpoint("orphan-2"), nil)
	assert.ErrorIs(t, err, rterrors.ErrNoFactoryResolvable)
}

func TestRegistrarFlushReportsDuplicateIDs(t *testing.T) {
	r, registry := newTestRegistrar(t)
	r.SetContainerFactory(newFakeFactory())
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("dup"), nil))
	require.NoError(t, r.RegisterEndpoint(context.Background(), testEndpoint("dup"), nil))

	err := r.Flush(context.Background())
	assert.ErrorIs(t, err, rterrors.ErrDuplicateEndpointID)
	assert.Equal(t, []string{"dup"}, registry.ListenerContainerIDs())
}

func TestFactoryMapIgnoresNilEntries(t *testing.T) {
	m := FactoryMap{"nil": nil}
	_, ok := m.LookupFactory("nil")
	assert.False(t, ok)
	_, ok = m.LookupFactory("missing")
	assert.False(t, ok)
}
