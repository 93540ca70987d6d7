package pmem

import (
	"github.com/kevinzs2048/pmem/codec"
	"github.com/kevinzs2048/pmem/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	controller       *resource.Controller
	codec            codec.Codec
	granularity      *Granularity
	deferredFlush    bool
	arenaChunkSize   int
	arenaMaxChunks   int
}

func defaultOptions() *options {
	return &options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		codec:            codec.Default,
		arenaChunkSize:   64 * 1024,
	}
}

// Option configures Map constructor behavior.
type Option func(*options)

// WithLogger configures structured logging. If nil is passed, logging
// stays disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsCollector configures operational metrics collection.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceController bounds the memory reserved for operation records
// and rate-limits flush traffic. A nil controller disables both limits.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithCodec configures the codec used for snapshot compression.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithGranularity overrides the store granularity detected at map time.
//
// Use this when platform detection is too conservative, e.g. forcing
// GranularityByte on an eADR system where the mapping probe cannot tell.
// Forcing a finer granularity than the hardware provides breaks the
// durability guarantees of Persist.
func WithGranularity(g Granularity) Option {
	return func(o *options) {
		o.granularity = &g
	}
}

// WithDeferredFlush batches flushes instead of issuing them after every
// copy. Dirty pages are tracked and written back on Drain. Copied data is
// not durable until Drain returns.
func WithDeferredFlush() Option {
	return func(o *options) {
		o.deferredFlush = true
	}
}

// WithArena sizes the operation-record arena of the mover. chunkSize is
// the size of each arena chunk in bytes; maxChunks caps the number of
// chunks (0 means unlimited).
func WithArena(chunkSize, maxChunks int) Option {
	return func(o *options) {
		if chunkSize > 0 {
			o.arenaChunkSize = chunkSize
		}
		o.arenaMaxChunks = maxChunks
	}
}
