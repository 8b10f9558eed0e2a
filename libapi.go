package messagebus

import (
	runtimepkg "github.com/drblury/messagebus/internal/runtime"
	clockpkg "github.com/drblury/messagebus/internal/runtime/clock"
	configpkg "github.com/drblury/messagebus/internal/runtime/config"
	envelopepkg "github.com/drblury/messagebus/internal/runtime/envelope"
	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	idspkg "github.com/drblury/messagebus/internal/runtime/ids"
	jsoncodec "github.com/drblury/messagebus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/messagebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
	"github.com/drblury/messagebus/transport"

	// Built-in transports register themselves with the default registry.
	_ "github.com/drblury/messagebus/transport/transports"
)

type (
	Client          = runtimepkg.Client
	Dependencies    = runtimepkg.Dependencies
	Producer        = runtimepkg.Producer
	ClusterResolver = runtimepkg.ClusterResolver
	PublishOption   = runtimepkg.PublishOption
	PublishResult   = runtimepkg.PublishResult
	Outcome         = runtimepkg.Outcome

	Config        = configpkg.Config
	ClusterConfig = configpkg.ClusterConfig

	Clock       = clockpkg.Clock
	SystemClock = clockpkg.System
	ManualClock = clockpkg.Manual

	Message     = envelopepkg.Message
	PayloadType = envelopepkg.PayloadType

	Headers = metadatapkg.Headers

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	InvalidDestinationError = errspkg.InvalidDestinationError
	ConfigValidationError   = errspkg.ConfigValidationError

	// Publish lifecycle hooks
	PublishContext = runtimepkg.PublishContext
	PublishHooks   = runtimepkg.PublishHooks

	// Transport registry
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewClient   = runtimepkg.NewClient
	StartClient = runtimepkg.StartClient

	WithDelay         = runtimepkg.WithDelay
	WithDelayDuration = runtimepkg.WithDelayDuration
	WithSafe          = runtimepkg.WithSafe
	WithBinary        = runtimepkg.WithBinary
	WithMessageID     = runtimepkg.WithMessageID
	WithHeaders       = runtimepkg.WithHeaders

	// Publish lifecycle hooks
	DebugHooks    = runtimepkg.DebugHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	LoadConfigFile     = configpkg.LoadFile
	ConfigFromEnv      = configpkg.FromEnv
	ValidateConfig     = configpkg.ValidateConfig
	NewManualClock     = clockpkg.NewManual
	NewMessage         = envelopepkg.Create
	NewMessageWithID   = envelopepkg.CreateWithID
	NewHeaders         = metadatapkg.New
	CreateULID         = idspkg.CreateULID
	NewLogger          = loggingpkg.New
	NewZapLogger       = loggingpkg.NewZap
	ParseLogLevel      = loggingpkg.ParseLevel
	NewWatermillLogger = loggingpkg.NewWatermillAdapter

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger

	// Use RegisterTransport to plug custom brokers into the default registry.
	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	RegisterTransport        = transport.RegisterWithCapabilities
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrInvalidDestination   = errspkg.ErrInvalidDestination
	ErrClientAlreadyStarted = errspkg.ErrClientAlreadyStarted
	ErrClientStopped        = errspkg.ErrClientStopped
	ErrProducerClosed       = errspkg.ErrProducerClosed
	ErrPublishRejected      = errspkg.ErrPublishRejected
	ErrClientDisabled       = errspkg.ErrClientDisabled
	ErrPayloadType          = envelopepkg.ErrPayloadType
	ErrUnknownTransport     = transport.ErrUnknownTransport
)

const (
	DefaultReloadInterval = runtimepkg.DefaultReloadInterval

	OutcomeSuccess            = runtimepkg.OutcomeSuccess
	OutcomeRejected           = runtimepkg.OutcomeRejected
	OutcomeError              = runtimepkg.OutcomeError
	OutcomeDisabled           = runtimepkg.OutcomeDisabled
	OutcomeInvalidDestination = runtimepkg.OutcomeInvalidDestination

	PayloadJSON   = envelopepkg.PayloadJSON
	PayloadString = envelopepkg.PayloadString
	PayloadBinary = envelopepkg.PayloadBinary
)

// Header keys set on every published message.
const (
	// ScheduledDeliveryTimeMsHeader holds the epoch millisecond at which a
	// delayed message becomes due.
	ScheduledDeliveryTimeMsHeader = transport.ScheduledDeliveryTimeMsHeader
	PayloadTypeHeader             = envelopepkg.PayloadTypeHeader
	EventSchemaHeader             = envelopepkg.EventSchemaHeader
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
