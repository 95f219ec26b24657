package natsflow

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/natsflow/internal/runtime"
	codecpkg "github.com/drblury/natsflow/internal/runtime/codec"
	configpkg "github.com/drblury/natsflow/internal/runtime/config"
	connectionpkg "github.com/drblury/natsflow/internal/runtime/connection"
	errspkg "github.com/drblury/natsflow/internal/runtime/errors"
	idspkg "github.com/drblury/natsflow/internal/runtime/ids"
	listenerpkg "github.com/drblury/natsflow/internal/runtime/listener"
	loggingpkg "github.com/drblury/natsflow/internal/runtime/logging"
	transportpkg "github.com/drblury/natsflow/transport"
)

type (
	Config          = configpkg.Config
	TemplateConfig  = configpkg.TemplateConfig
	ContainerConfig = configpkg.ContainerConfig
	JetStreamConfig = configpkg.JetStreamConfig

	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Endpoint                = runtimepkg.Endpoint
	ContainerFactory        = runtimepkg.ContainerFactory
	ContainerFactoryFunc    = runtimepkg.ContainerFactoryFunc
	DefaultContainerFactory = runtimepkg.DefaultContainerFactory
	FactoryOption           = runtimepkg.FactoryOption
	FactoryCatalog          = runtimepkg.FactoryCatalog
	FactoryMap              = runtimepkg.FactoryMap
	EndpointRegistry        = runtimepkg.EndpointRegistry
	Registrar               = runtimepkg.Registrar
	Template                = runtimepkg.Template
	AdminOptions            = runtimepkg.AdminOptions

	ListenerRegistration                       = runtimepkg.ListenerRegistration
	JSONListenerRegistration[T any]            = runtimepkg.JSONListenerRegistration[T]
	ProtoListenerRegistration[T proto.Message] = runtimepkg.ProtoListenerRegistration[T]
	JSONHandler[T any]                         = listenerpkg.JSONHandler[T]
	ProtoHandler[T proto.Message]              = listenerpkg.ProtoHandler[T]

	ConnectionProvider  = connectionpkg.Provider
	ListenerContainer   = listenerpkg.Container
	DefaultContainer    = listenerpkg.DefaultContainer
	IdleWaiter          = listenerpkg.IdleWaiter
	ContainerProperties = listenerpkg.ContainerProperties
	ContainerInfo       = listenerpkg.ContainerInfo
	ContainerMetrics    = listenerpkg.Metrics
	ContainerStats      = listenerpkg.ContainerStats
	MessageListener     = listenerpkg.MessageListener
	MessageListenerFunc = listenerpkg.MessageListenerFunc
	ErrorHandler        = listenerpkg.ErrorHandler
	ErrorHandlerFunc    = listenerpkg.ErrorHandlerFunc
	FilterStrategy      = listenerpkg.FilterStrategy
	FilterFunc          = listenerpkg.FilterFunc
	Hooks               = listenerpkg.Hooks
	InvocationEvent     = listenerpkg.InvocationEvent
	ExecutionError      = listenerpkg.ExecutionError
	PanicError          = listenerpkg.PanicError

	ServiceLogger = loggingpkg.ServiceLogger
	LogFields     = loggingpkg.LogFields

	TransportConn         = transportpkg.Conn
	TransportSubscription = transportpkg.Subscription
	TransportBuilder      = transportpkg.Builder
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
	StreamSettings        = transportpkg.StreamSettings

	ConfigValidationError = errspkg.ConfigValidationError
	ConnectionError       = errspkg.ConnectionError
	ContainerInitError    = errspkg.ContainerInitError
	FatalError            = errspkg.FatalError
)

var (
	NewService    = runtimepkg.NewService
	LoadConfig    = configpkg.Load
	DefaultConfig = configpkg.Default

	NewEndpoint                = runtimepkg.NewEndpoint
	NewDefaultContainerFactory = runtimepkg.NewDefaultContainerFactory
	NewEndpointRegistry        = runtimepkg.NewEndpointRegistry
	NewRegistrar               = runtimepkg.NewRegistrar
	NewTemplate                = runtimepkg.NewTemplate
	NewAdminHandler            = runtimepkg.NewAdminHandler
	NewConnectionProvider      = connectionpkg.NewProvider
	NewContainerMetrics        = listenerpkg.NewMetrics
	NewContainerProperties     = listenerpkg.NewContainerProperties
	RegisterListener           = runtimepkg.RegisterListener

	WithAutoStartup       = runtimepkg.WithAutoStartup
	WithPhase             = runtimepkg.WithPhase
	WithFilterStrategy    = runtimepkg.WithFilterStrategy
	WithErrorHandler      = runtimepkg.WithErrorHandler
	WithShutdownTimeout   = runtimepkg.WithShutdownTimeout
	WithContainerMetrics  = runtimepkg.WithContainerMetrics
	WithContainerTracer   = runtimepkg.WithContainerTracer
	WithHooks             = runtimepkg.WithHooks
	WithTransportRegistry = connectionpkg.WithTransportRegistry

	NewFilteringListener   = listenerpkg.NewFilteringListener
	HeaderFilter           = listenerpkg.HeaderFilter
	NewLoggingErrorHandler = listenerpkg.NewLoggingErrorHandler
	NewHookedListener      = listenerpkg.NewHookedListener
	LoggingHooks           = listenerpkg.LoggingHooks
	AlertingHooks          = listenerpkg.AlertingHooks

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	NewTransportRegistry     = transportpkg.NewRegistry
	RegisterTransport        = transportpkg.RegisterWithCapabilities

	Marshal       = codecpkg.Marshal
	MarshalIndent = codecpkg.MarshalIndent
	Unmarshal     = codecpkg.Unmarshal
	EncodePayload = codecpkg.EncodePayload

	CreateULID    = idspkg.CreateULID
	NewEndpointID = idspkg.NewEndpointID

	Fatal                = errspkg.Fatal
	IsFatal              = errspkg.IsFatal
	IsConfigurationError = errspkg.IsConfigurationError

	ErrEndpointRequired           = errspkg.ErrEndpointRequired
	ErrEndpointIDRequired         = errspkg.ErrEndpointIDRequired
	ErrFactoryRequired            = errspkg.ErrFactoryRequired
	ErrDuplicateEndpointID        = errspkg.ErrDuplicateEndpointID
	ErrListenerRequired           = errspkg.ErrListenerRequired
	ErrSubjectsRequired           = errspkg.ErrSubjectsRequired
	ErrPhaseMismatch              = errspkg.ErrPhaseMismatch
	ErrNoFactoryResolvable        = errspkg.ErrNoFactoryResolvable
	ErrConnectionProviderRequired = errspkg.ErrConnectionProviderRequired
	ErrRegistryRequired           = errspkg.ErrRegistryRequired
	ErrConfigRequired             = errspkg.ErrConfigRequired
	ErrLoggerRequired             = errspkg.ErrLoggerRequired
	ErrSubjectRequired            = errspkg.ErrSubjectRequired
	ErrPayloadRequired            = errspkg.ErrPayloadRequired
	ErrServiceRequired            = errspkg.ErrServiceRequired
	ErrConnectionClosed           = transportpkg.ErrConnectionClosed
)

// DefaultContainerFactoryName is the name the registrar looks up when an
// endpoint arrives without a factory and no default is set.
const DefaultContainerFactoryName = runtimepkg.DefaultContainerFactoryName

func RegisterJSONListener[T any](ctx context.Context, svc *Service, cfg JSONListenerRegistration[T]) error {
	return runtimepkg.RegisterJSONListener(ctx, svc, cfg)
}

func RegisterProtoListener[T proto.Message](ctx context.Context, svc *Service, cfg ProtoListenerRegistration[T]) error {
	return runtimepkg.RegisterProtoListener(ctx, svc, cfg)
}

func NewJSONListener[T any](handler JSONHandler[T]) (*listenerpkg.JSONListener[T], error) {
	return listenerpkg.NewJSONListener(handler)
}

func NewProtoListener[T proto.Message](handler ProtoHandler[T]) (*listenerpkg.ProtoListener[T], error) {
	return listenerpkg.NewProtoListener(handler)
}

// Bool returns a pointer to v, for Endpoint.AutoStartup and the registration structs.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for Endpoint.Phase and the registration structs.
func Int(v int) *int { return &v }
