// Package iccd drives the PicoKey rescue-mode USB interface with an
// ICCD-style command set: power control and APDU exchange framed over raw
// bulk transfers. USB bulk pipes carry no session state of their own, so
// the driver tracks the ICC power state explicitly and guarantees the card
// is powered before any command APDU goes out.
package iccd

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// DefaultTimeout bounds a single bulk transfer.
const DefaultTimeout = 2 * time.Second

// settleDelay gives the OS time to re-enumerate the device between a close
// and a rediscovery during Reconnect.
const settleDelay = time.Second

type powerState int

const (
	powerUnknown powerState = iota
	powerActive
	powerIdle
)

// Driver owns one opened PicoKey USB device and its endpoint bindings.
// Methods are safe for use by one caller at a time; the mutex serializes
// the monitor-triggered Close against a command in flight.
type Driver struct {
	mu      sync.Mutex
	ctx     *gousb.Context
	bind    *binding
	seq     byte
	power   powerState
	closed  bool
	timeout time.Duration
}

// Open discovers the PicoKey rescue device and binds its endpoints.
// The card is power-cycled off so the power state is known. A zero timeout
// selects DefaultTimeout.
func Open(timeout time.Duration) (*Driver, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx := gousb.NewContext()
	b, err := locate(ctx)
	if err != nil {
		_ = ctx.Close()
		return nil, err
	}

	d := &Driver{
		ctx:     ctx,
		bind:    b,
		power:   powerUnknown,
		timeout: timeout,
	}
	if err := d.PowerOff(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Endpoints returns the endpoint addresses resolved at discovery.
func (d *Driver) Endpoints() Endpoints {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bind == nil {
		return Endpoints{}
	}
	return d.bind.eps
}

// Device returns the bound USB device descriptor, or nil after Close.
func (d *Driver) Device() *gousb.DeviceDesc {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bind == nil || d.bind.dev == nil {
		return nil
	}
	return d.bind.dev.Desc
}

// Read performs one blocking bulk read from the IN endpoint.
func (d *Driver) Read(timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(timeout)
}

// Write sends data on the OUT endpoint, failing unless the device accepts
// the full byte count.
func (d *Driver) Write(data []byte, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(data, timeout)
}

// Exchange writes one frame and reads one reply.
func (d *Driver) Exchange(data []byte, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchange(data, timeout)
}

func (d *Driver) read(timeout time.Duration) ([]byte, error) {
	if d.closed || d.bind == nil {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, readBufferSize)
	n, err := d.bind.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, ioError("read", err)
	}
	return buf[:n], nil
}

func (d *Driver) write(data []byte, timeout time.Duration) error {
	if d.closed || d.bind == nil {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := d.bind.out.WriteContext(ctx, data)
	if err != nil {
		return ioError("write", err)
	}
	if n != len(data) {
		return ioError("write", fmt.Errorf("short write: %d of %d bytes", n, len(data)))
	}
	return nil
}

func (d *Driver) exchange(data []byte, timeout time.Duration) ([]byte, error) {
	if err := d.write(data, timeout); err != nil {
		return nil, err
	}
	return d.read(timeout)
}

// frame prepends the 10-byte ICCD header to a command payload.
func (d *Driver) frame(msgType byte, data []byte) []byte {
	hdr := make([]byte, headerLen, headerLen+len(data))
	hdr[0] = msgType
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(data)))
	hdr[6] = d.seq
	d.seq++
	return append(hdr, data...)
}

// parseReply strips the reply header and returns the abData payload.
func parseReply(raw []byte) ([]byte, error) {
	if len(raw) < headerLen {
		return nil, ioError("read", fmt.Errorf("reply truncated: %d bytes", len(raw)))
	}
	n := binary.LittleEndian.Uint32(raw[1:5])
	if int(n) > len(raw)-headerLen {
		return nil, ioError("read", fmt.Errorf("reply length %d exceeds frame", n))
	}
	return raw[headerLen : headerLen+int(n)], nil
}

// PowerOn issues ICC power on unless the card is already active.
func (d *Driver) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerOn()
}

func (d *Driver) powerOn() error {
	if d.power == powerActive {
		return nil
	}
	if _, err := d.exchange(d.frame(msgIccPowerOn, nil), d.timeout); err != nil {
		return err
	}
	d.power = powerActive
	return nil
}

// PowerOff issues ICC power off when the card is active or its state has
// never been set; a no-op otherwise.
func (d *Driver) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.power == powerIdle {
		return nil
	}
	if _, err := d.exchange(d.frame(msgIccPowerOff, nil), d.timeout); err != nil {
		return err
	}
	d.power = powerIdle
	return nil
}

// Transmit sends one command APDU, powering the card on first if needed,
// and returns the response payload with the status word split off.
func (d *Driver) Transmit(apdu []byte) ([]byte, byte, byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.power != powerActive {
		if err := d.powerOn(); err != nil {
			return nil, 0, 0, err
		}
	}

	raw, err := d.exchange(d.frame(msgXfrBlock, apdu), d.timeout)
	if err != nil {
		return nil, 0, 0, err
	}
	rapdu, err := parseReply(raw)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(rapdu) < 2 {
		return nil, 0, 0, ioError("read", fmt.Errorf("response APDU too short: %d bytes", len(rapdu)))
	}
	n := len(rapdu) - 2
	return rapdu[:n], rapdu[n], rapdu[n+1], nil
}

// Close releases the USB bindings and the underlying context. Safe to call
// multiple times.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.bind != nil {
		d.bind.close()
		d.bind = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Close()
		d.ctx = nil
	}
	return nil
}

// Reconnect drops the current binding, waits for the OS to settle the
// device and re-runs discovery to rebind the endpoints. Discovery failure
// propagates.
func (d *Driver) Reconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.ctx == nil {
		return ErrClosed
	}
	if d.bind != nil {
		d.bind.close()
		d.bind = nil
	}

	time.Sleep(settleDelay)

	b, err := locate(d.ctx)
	if err != nil {
		return err
	}
	d.bind = b
	d.power = powerUnknown
	return nil
}
