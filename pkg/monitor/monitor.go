// Package monitor watches the USB bus for attach and detach of the rescue
// device and raises edge-triggered notifications to an observer. The poll
// loop runs in the background until stopped; Stop only clears the running
// flag and does not join the worker, so a transition detected in flight may
// still deliver one notification after Stop returns.
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/google/gousb"
)

// DefaultInterval is the poll period between bus scans.
const DefaultInterval = 500 * time.Millisecond

// Observer receives connect and disconnect notifications. Calls arrive on
// the monitor's background goroutine.
type Observer interface {
	OnConnect(desc *gousb.DeviceDesc)
	OnDisconnect(desc *gousb.DeviceDesc)
}

// Finder reports whether the watched device is currently enumerable,
// returning its descriptor or nil. Errors are treated as transient: the
// loop sleeps and retries, it never terminates on them.
type Finder func() (*gousb.DeviceDesc, error)

// USBFinder builds a Finder that scans the bus for a vendor/product pair
// without opening the device.
func USBFinder(ctx *gousb.Context, vid, pid gousb.ID) Finder {
	return func() (*gousb.DeviceDesc, error) {
		var found *gousb.DeviceDesc
		_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			if found == nil && desc.Vendor == vid && desc.Product == pid {
				found = desc
			}
			return false
		})
		if err != nil {
			return nil, err
		}
		return found, nil
	}
}

type Option func(*Monitor)

// WithInterval overrides the poll period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithCleanup registers a function invoked once when the poll loop exits,
// e.g. to release the gousb context backing the finder.
func WithCleanup(fn func()) Option {
	return func(m *Monitor) {
		m.cleanup = fn
	}
}

// Monitor polls a Finder at a fixed interval and notifies its observer on
// presence transitions.
type Monitor struct {
	find     Finder
	obs      Observer
	interval time.Duration
	cleanup  func()

	running atomic.Bool
	present bool
	last    *gousb.DeviceDesc
}

// New creates a stopped monitor.
func New(find Finder, obs Observer, opts ...Option) *Monitor {
	m := &Monitor{
		find:     find,
		obs:      obs,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the poll loop. Idempotent while running.
func (m *Monitor) Start() {
	if m.running.Swap(true) {
		return
	}
	go m.run()
}

// Stop requests termination of the poll loop without waiting for it.
func (m *Monitor) Stop() {
	m.running.Store(false)
}

func (m *Monitor) run() {
	defer func() {
		if m.cleanup != nil {
			m.cleanup()
		}
	}()

	for m.running.Load() {
		desc, err := m.find()
		if err != nil {
			time.Sleep(m.interval)
			continue
		}

		if desc != nil && !m.present {
			m.present = true
			m.last = desc
			if m.obs != nil {
				m.obs.OnConnect(desc)
			}
		}
		if desc == nil && m.present {
			m.present = false
			if m.obs != nil {
				m.obs.OnDisconnect(m.last)
			}
		}

		time.Sleep(m.interval)
	}
}
