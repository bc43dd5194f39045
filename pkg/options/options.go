package options

import (
	"log/slog"
	"time"
)

type Options struct {
	Logger          *slog.Logger
	Slot            int
	ForceRescue     bool
	ConnectTimeout  time.Duration
	ExchangeTimeout time.Duration
	PollInterval    time.Duration
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithSlot restricts the smartcard probe to one reader index. An index
// beyond the available readers is a configuration error.
func WithSlot(slot int) Option {
	return func(opts *Options) {
		opts.Slot = slot
	}
}

// WithForceRescue skips the smartcard probe and connects over the raw USB
// rescue interface directly.
func WithForceRescue() Option {
	return func(opts *Options) {
		opts.ForceRescue = true
	}
}

// WithConnectTimeout bounds a single reader connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.ConnectTimeout = d
	}
}

// WithExchangeTimeout bounds a single USB bulk transfer in rescue mode.
func WithExchangeTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.ExchangeTimeout = d
	}
}

// WithPollInterval sets the rescue monitor poll period.
func WithPollInterval(d time.Duration) Option {
	return func(opts *Options) {
		opts.PollInterval = d
	}
}

func NewOptions(opts ...Option) *Options {
	oo := &Options{
		Logger:          slog.Default(),
		Slot:            -1,
		ConnectTimeout:  time.Second,
		ExchangeTimeout: 2 * time.Second,
		PollInterval:    500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(oo)
	}

	return oo
}
