package constants

import "time"

// Sync loop timing
const (
	// DefaultSyncTimeout is the long-poll timeout passed to the home server
	DefaultSyncTimeout = 30 * time.Second
	// DefaultSyncRetryDelay is the fixed delay after a failed sync fetch
	DefaultSyncRetryDelay = 5 * time.Second
	// SyncRequestGrace is added to the long-poll timeout for the HTTP round trip
	SyncRequestGrace = 15 * time.Second
	// InitialSyncRequestTimeout bounds the first, unfiltered snapshot request
	InitialSyncRequestTimeout = 5 * time.Minute
)

// Delivery queue backoff
const (
	// DeliveryInitialBackoff is the wait after the first failed delivery
	DeliveryInitialBackoff = 5 * time.Second
	// DeliveryBackoffIncrement is added to the wait after each further failure
	DeliveryBackoffIncrement = 5 * time.Second
	// DeliveryMaxBackoff caps the delivery wait
	DeliveryMaxBackoff = 5 * time.Minute
)

// Webhook server
const (
	// DefaultWebhookAddr is the listen address of the webhook server
	DefaultWebhookAddr = ":8500"
	// WebhookPathPrefix is the URL prefix under which plugin keys are mounted
	WebhookPathPrefix = "/neb/"
	// MaxWebhookBodyBytes caps the size of an inbound webhook body
	MaxWebhookBodyBytes = 1 << 20
	// WebhookReadTimeout bounds reading an inbound request
	WebhookReadTimeout = 10 * time.Second
	// WebhookWriteTimeout bounds writing the response
	WebhookWriteTimeout = 10 * time.Second
	// WebhookIdleTimeout bounds keep-alive connections
	WebhookIdleTimeout = 60 * time.Second
	// WebhookShutdownTimeout is the graceful shutdown window
	WebhookShutdownTimeout = 5 * time.Second
)

// Chat surface
const (
	// DefaultCommandPrefix starts every chat command
	DefaultCommandPrefix = "!"
	// HelpCommand is the reserved command that lists the others
	HelpCommand = "help"
	// MaxCommandInputLength rejects oversized command bodies early
	MaxCommandInputLength = 10000
)

// Plugin storage
const (
	// KeyValueStoreVersion is written into every new plugin store
	KeyValueStoreVersion = "1"
)

// Token masking
const (
	// MinTokenLengthForMasking is the minimum token length to apply masking
	MinTokenLengthForMasking = 10
	// TokenMaskPrefixLength is the length of prefix to show before masking
	TokenMaskPrefixLength = 7
	// TokenMaskSuffixLength is the length of suffix to show after masking
	TokenMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 20
	// DefaultLogMaxBackups is the default number of rotated files kept
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)
