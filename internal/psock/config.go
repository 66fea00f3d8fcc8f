package psock

import (
	"net"
	"time"

	"github.com/minor-way/perfectsock/internal/reassembly"
)

// Config holds every Socket construction option and its default.
type Config struct {
	MaxQueueSize    int
	MaxSendRate     float64 // batches/sec; 0 = unlimited
	DropIfFull      bool
	SendRetry       int
	ProcessedMaxLen int
	BatchTimeout    time.Duration

	OnSendError   func(err error, data []byte, addr net.Addr)
	OnQueueFull   func(data []byte, addr net.Addr)
	OnDecodeError func(err error, key reassembly.Key)
}

// DefaultConfig returns the default option values.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:    200,
		MaxSendRate:     0,
		DropIfFull:      false,
		SendRetry:       0,
		ProcessedMaxLen: 10000,
		BatchTimeout:    10 * time.Second,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithMaxQueueSize sets the bounded send-queue capacity.
func WithMaxQueueSize(n int) Option { return func(c *Config) { c.MaxQueueSize = n } }

// WithMaxSendRate caps batches/second at the worker (0 disables the cap).
func WithMaxSendRate(batchesPerSec float64) Option {
	return func(c *Config) { c.MaxSendRate = batchesPerSec }
}

// WithDropIfFull governs SendTo behavior when the queue is full.
func WithDropIfFull(drop bool) Option { return func(c *Config) { c.DropIfFull = drop } }

// WithSendRetry sets the per-fragment OS-send retry count.
func WithSendRetry(n int) Option { return func(c *Config) { c.SendRetry = n } }

// WithProcessedMaxLen bounds the processed-batch duplicate-suppression window.
func WithProcessedMaxLen(n int) Option { return func(c *Config) { c.ProcessedMaxLen = n } }

// WithBatchTimeout sets the reassembly expiry duration.
func WithBatchTimeout(d time.Duration) Option { return func(c *Config) { c.BatchTimeout = d } }

// WithOnSendError installs the terminal-send-failure callback.
func WithOnSendError(fn func(err error, data []byte, addr net.Addr)) Option {
	return func(c *Config) { c.OnSendError = fn }
}

// WithOnQueueFull installs the queue-full callback.
func WithOnQueueFull(fn func(data []byte, addr net.Addr)) Option {
	return func(c *Config) { c.OnQueueFull = fn }
}

// WithOnDecodeError installs the per-batch decode-failure callback.
func WithOnDecodeError(fn func(err error, key reassembly.Key)) Option {
	return func(c *Config) { c.OnDecodeError = fn }
}
