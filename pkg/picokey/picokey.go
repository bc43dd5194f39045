// Package picokey implements a host-side session with a PicoKey hardware
// token. A session speaks extended ISO 7816 APDUs over one of two
// transports, a PC/SC smartcard reader or a raw USB rescue-mode link, and
// hides the difference behind one exchange surface.
package picokey

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/samber/lo"

	"github.com/go-picokey/picokey/pkg/apdu"
	"github.com/go-picokey/picokey/pkg/iccd"
	"github.com/go-picokey/picokey/pkg/monitor"
	"github.com/go-picokey/picokey/pkg/options"
	"github.com/go-picokey/picokey/pkg/securechannel"
)

var (
	aidRescue   = []byte{0xA0, 0x58, 0x3F, 0xC1, 0x9B, 0x7E, 0x4F, 0x21}
	aidStandard = []byte{0xE8, 0x2B, 0x06, 0x01, 0x04, 0x01, 0x81, 0xC3, 0x1F, 0x02, 0x01}
)

// PicoKey is a live session with one device. All exported methods are safe
// for concurrent use.
type PicoKey struct {
	mu        sync.Mutex
	logger    *slog.Logger
	transport Transport
	connType  ConnectionType
	sc        *securechannel.Channel
	mon       *monitor.Monitor
	watcher   *cardWatcher
	lastFrame []byte
	closed    bool

	platform Platform
	product  Product
	version  Version
}

// New locates a PicoKey and opens a session with it. Smartcard readers are
// probed first unless WithForceRescue is set; if no reader holds a card the
// USB bus is searched for a device in rescue mode. ErrNotFound is returned
// when neither transport yields a device.
func New(opts ...options.Option) (*PicoKey, error) {
	oo := options.NewOptions(opts...)
	k := &PicoKey{logger: oo.Logger, connType: ConnectionUnknown}

	if !oo.ForceRescue {
		tr, err := probeSmartcard(oo)
		if err != nil {
			return nil, err
		}
		if tr != nil {
			k.transport = tr
			k.connType = ConnectionSmartcard
			watcher, werr := newCardWatcher(tr.reader, oo.PollInterval, func() {
				k.logger.Info("card removed", slog.String("reader", tr.reader))
				_ = k.Close()
			})
			if werr != nil {
				k.logger.Debug("card removal watcher unavailable", slog.Any("error", werr))
			} else {
				k.watcher = watcher
			}
		}
	}

	if k.transport == nil {
		drv, err := iccd.Open(oo.ExchangeTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		k.transport = drv
		k.connType = ConnectionRescue
		k.startRescueMonitor(drv, oo.PollInterval)
	}

	k.logger.Debug("session opened", slog.String("connection", k.connType.String()))
	k.identify()
	return k, nil
}

func (k *PicoKey) startRescueMonitor(drv *iccd.Driver, interval time.Duration) {
	desc := drv.Device()
	if desc == nil {
		return
	}
	uctx := gousb.NewContext()
	k.mon = monitor.New(
		monitor.USBFinder(uctx, desc.Vendor, desc.Product),
		&removalObserver{dev: k},
		monitor.WithInterval(interval),
		monitor.WithCleanup(func() { _ = uctx.Close() }),
	)
	k.mon.Start()
}

// identify selects the applet and records the platform, product and
// firmware version it reports. Devices that reject the selection get
// baseline defaults.
func (k *PicoKey) identify() {
	k.platform = PlatformRP2040
	k.product = ProductUnknown
	k.version = Version{}
	resp, sw1, sw2, err := k.SelectApplet(true)
	if err != nil || sw1 != 0x90 || sw2 != 0x00 || len(resp) < 4 {
		k.logger.Debug("applet selection failed, assuming baseline identity")
		return
	}
	k.platform = Platform(resp[0])
	k.product = Product(resp[1])
	k.version = Version{Major: resp[2], Minor: resp[3]}
	k.logger.Debug("device identified",
		slog.String("platform", k.platform.String()),
		slog.String("product", k.product.String()),
		slog.String("version", k.version.String()))
}

func selectFrame(aid []byte, p2 byte) []byte {
	frame := append([]byte{0x00, 0xA4, 0x04, p2, byte(len(aid))}, aid...)
	return append(frame, 0x00)
}

// SelectApplet issues a SELECT by AID, using the rescue AID or the
// standard applet AID. The raw response and status bytes are returned
// without interpretation.
func (k *PicoKey) SelectApplet(rescue bool) ([]byte, byte, byte, error) {
	if rescue {
		return k.Transmit(selectFrame(aidRescue, 0x04))
	}
	return k.Transmit(selectFrame(aidStandard, 0x00))
}

// Transmit sends a raw frame over the transport with no framing, secure
// channel or status handling applied.
func (k *PicoKey) Transmit(raw []byte) ([]byte, byte, byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.transport == nil {
		return nil, 0, 0, ErrNoDevice
	}
	payload, sw1, sw2, err := k.transport.Transmit(raw)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrTransmit, err)
	}
	return payload, sw1, sw2, nil
}

// Send encodes cmd, exchanges it and applies the session's status policy:
// 61XX responses are drained with GET RESPONSE, 63CX counter warnings pass
// through, and any other non-9000 status outside accepted becomes an
// *apdu.Error. When a secure channel is open the command is wrapped and
// the response unwrapped transparently.
func (k *PicoKey) Send(cmd *apdu.Command, accepted ...apdu.StatusWord) ([]byte, apdu.StatusWord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.transport == nil {
		return nil, 0, ErrNoDevice
	}

	frame := cmd.Bytes()
	k.lastFrame = frame
	k.logger.Debug("APDU sent", slog.String("data", hex.EncodeToString(frame)))

	wire := frame
	if k.sc != nil {
		wire = k.sc.WrapAPDU(frame)
	}

	payload, sw1, sw2, err := k.transmitWithRetry(wire)
	if err != nil {
		return nil, 0, err
	}
	sw := apdu.NewStatusWord(sw1, sw2)

	if !sw.IsSuccess() {
		switch {
		case sw.IsCounterWarning():
			k.logger.Debug("counter warning", slog.String("status", sw.String()))
		case sw.HasMoreData():
			payload, sw, err = k.drainResponse(sw)
			if err != nil {
				return nil, 0, err
			}
		}
		if sw != apdu.SWNoError && !sw.IsCounterWarning() && !lo.Contains(accepted, sw) {
			k.logger.Debug("command failed", slog.String("status", sw.String()))
			return nil, sw, apdu.NewError(sw)
		}
	}
	k.logger.Debug("APDU received", slog.String("data", hex.EncodeToString(payload)))

	if k.sc != nil {
		plain, psw, uerr := k.sc.UnwrapRAPDU(payload)
		if uerr != nil {
			return nil, psw, uerr
		}
		if psw != apdu.SWNoError && !lo.Contains(accepted, psw) {
			return nil, psw, apdu.NewError(psw)
		}
		return plain, psw, nil
	}
	return payload, sw, nil
}

// drainResponse chains GET RESPONSE commands until the status leaves 61XX,
// concatenating the returned chunks.
func (k *PicoKey) drainResponse(sw apdu.StatusWord) ([]byte, apdu.StatusWord, error) {
	var out []byte
	for sw.HasMoreData() {
		chunk, sw1, sw2, err := k.transport.Transmit([]byte{0x00, 0xC0, 0x00, 0x00, sw.SW2()})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTransmit, err)
		}
		out = append(out, chunk...)
		sw = apdu.NewStatusWord(sw1, sw2)
	}
	return out, sw, nil
}

// transmitWithRetry performs one exchange, reconnecting and retrying once
// on a transport failure. A rescue session that cannot reconnect is closed.
func (k *PicoKey) transmitWithRetry(wire []byte) ([]byte, byte, byte, error) {
	payload, sw1, sw2, err := k.transport.Transmit(wire)
	if err == nil {
		return payload, sw1, sw2, nil
	}
	k.logger.Debug("transmit failed, reconnecting", slog.Any("error", err))
	if rerr := k.transport.Reconnect(); rerr != nil {
		if k.connType == ConnectionRescue {
			_ = k.closeLocked()
			return nil, 0, 0, fmt.Errorf("%w: %v", ErrReconnectFailed, rerr)
		}
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrTransmit, err)
	}
	payload, sw1, sw2, err = k.transport.Transmit(wire)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w after reconnect: %v", ErrTransmit, err)
	}
	return payload, sw1, sw2, nil
}

// Resend retransmits the last frame passed to Send, re-wrapping it when a
// secure channel is open. The response is returned without status policy
// applied.
func (k *PicoKey) Resend() ([]byte, apdu.StatusWord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.transport == nil {
		return nil, 0, ErrNoDevice
	}
	if k.lastFrame == nil {
		return nil, 0, errors.New("picokey: no previous command to resend")
	}
	wire := k.lastFrame
	if k.sc != nil {
		wire = k.sc.WrapAPDU(wire)
	}
	payload, sw1, sw2, err := k.transmitWithRetry(wire)
	if err != nil {
		return nil, 0, err
	}
	return payload, apdu.NewStatusWord(sw1, sw2), nil
}

// OpenSecureChannel derives session keys from the agreed shared secret and
// nonce, verifies the device token against the device public key, and on
// success wraps all subsequent Send traffic. ErrAuthentication is returned
// and the channel discarded when the token does not verify.
func (k *PicoKey) OpenSecureChannel(shared, nonce, token, devicePublicKey []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.transport == nil {
		return ErrNoDevice
	}
	sc, err := securechannel.New(shared, nonce)
	if err != nil {
		return err
	}
	if !sc.VerifyToken(token, devicePublicKey) {
		return ErrAuthentication
	}
	k.sc = sc
	k.logger.Debug("secure channel established")
	return nil
}

// Close tears the session down. It is idempotent and never fails; teardown
// errors from the underlying transport are logged and swallowed.
func (k *PicoKey) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closeLocked()
}

func (k *PicoKey) closeLocked() error {
	if k.closed {
		return nil
	}
	k.closed = true
	if k.mon != nil {
		k.mon.Stop()
		k.mon = nil
	}
	if k.watcher != nil {
		k.watcher.stop()
		k.watcher = nil
	}
	if k.transport != nil {
		if err := k.transport.Close(); err != nil {
			k.logger.Error("transport close failed", slog.Any("error", err))
		}
		k.transport = nil
	}
	k.sc = nil
	k.logger.Debug("session closed")
	return nil
}

// HasDevice reports whether the session still holds a usable transport.
func (k *PicoKey) HasDevice() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.transport != nil
}

// ConnectionType reports which transport the session runs over.
func (k *PicoKey) ConnectionType() ConnectionType { return k.connType }

// Platform reports the controller family announced at applet selection.
func (k *PicoKey) Platform() Platform { return k.platform }

// Product reports the firmware personality announced at applet selection.
func (k *PicoKey) Product() Product { return k.product }

// Version reports the firmware version announced at applet selection.
func (k *PicoKey) Version() Version { return k.version }

// removalObserver closes the owning session when the monitored USB device
// disappears from the bus.
type removalObserver struct {
	dev *PicoKey
}

func (o *removalObserver) OnConnect(*gousb.DeviceDesc) {}

func (o *removalObserver) OnDisconnect(desc *gousb.DeviceDesc) {
	if desc != nil {
		o.dev.logger.Info("device removed",
			slog.String("vid", desc.Vendor.String()),
			slog.String("pid", desc.Product.String()))
	}
	_ = o.dev.Close()
}
