package picokey

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ebfe/scard"
	"github.com/samber/mo"

	"github.com/go-picokey/picokey/pkg/options"
)

// Transport is the exchange surface a session drives. Both the PC/SC card
// transport and the rescue-mode USB driver satisfy it.
type Transport interface {
	// Transmit sends one raw APDU frame and returns the response payload
	// and the two status bytes.
	Transmit(apdu []byte) (payload []byte, sw1, sw2 byte, err error)

	// Reconnect re-establishes the link to the same device after a
	// transmission failure.
	Reconnect() error

	Close() error
}

// smartcardTransport drives a PicoKey over a PC/SC reader.
type smartcardTransport struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
}

func (t *smartcardTransport) Transmit(apdu []byte) ([]byte, byte, byte, error) {
	raw, err := t.card.Transmit(apdu)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(raw) < 2 {
		return nil, 0, 0, fmt.Errorf("short response: %d bytes", len(raw))
	}
	n := len(raw) - 2
	return raw[:n], raw[n], raw[n+1], nil
}

func (t *smartcardTransport) Reconnect() error {
	return t.card.Reconnect(scard.ShareShared, scard.ProtocolAny, scard.ResetCard)
}

func (t *smartcardTransport) Close() error {
	err := t.card.Disconnect(scard.LeaveCard)
	if rerr := t.ctx.Release(); err == nil {
		err = rerr
	}
	return err
}

// probeSmartcard looks for a reader with a card present. It returns
// (nil, nil) when PC/SC is unavailable or no reader answers, letting the
// caller fall through to rescue mode. An explicit slot that does not exist
// or holds no card is an error.
func probeSmartcard(oo *options.Options) (*smartcardTransport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		oo.Logger.Debug("PC/SC unavailable", slog.Any("error", err))
		return nil, nil
	}
	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		_ = ctx.Release()
		return nil, nil
	}
	candidates := readers
	if oo.Slot >= 0 {
		if oo.Slot >= len(readers) {
			_ = ctx.Release()
			return nil, fmt.Errorf("%w: slot %d with %d readers connected", ErrSlotOutOfRange, oo.Slot, len(readers))
		}
		candidates = readers[oo.Slot : oo.Slot+1]
	}
	for _, reader := range candidates {
		card := connectWithTimeout(ctx, reader, oo.ConnectTimeout)
		if card == nil {
			oo.Logger.Debug("no card in reader", slog.String("reader", reader))
			continue
		}
		oo.Logger.Debug("card connected", slog.String("reader", reader))
		return &smartcardTransport{ctx: ctx, card: card, reader: reader}, nil
	}
	_ = ctx.Release()
	if oo.Slot >= 0 {
		return nil, fmt.Errorf("%w: no card in reader slot %d", ErrNotFound, oo.Slot)
	}
	return nil, nil
}

// connectWithTimeout bounds ctx.Connect, which can block for seconds on
// some readers when no card is inserted. A connection that completes after
// the deadline is disconnected by the probe goroutine.
func connectWithTimeout(ctx *scard.Context, reader string, timeout time.Duration) *scard.Card {
	result := make(chan mo.Either[*scard.Card, error], 1)
	deadline := time.After(timeout)
	go func() {
		card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			result <- mo.Right[*scard.Card](err)
			return
		}
		select {
		case result <- mo.Left[*scard.Card, error](card):
		default:
			_ = card.Disconnect(scard.LeaveCard)
		}
	}()
	select {
	case r := <-result:
		card, ok := r.Left()
		if !ok {
			return nil
		}
		return card
	case <-deadline:
		// Leave a buffered slot unclaimed so the goroutine sees the miss.
		return nil
	}
}

// cardWatcher watches a single reader for card removal on its own PC/SC
// context, so status polling never contends with card traffic.
type cardWatcher struct {
	ctx      *scard.Context
	reader   string
	interval time.Duration
	done     chan struct{}
	onRemove func()
}

func newCardWatcher(reader string, interval time.Duration, onRemove func()) (*cardWatcher, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	w := &cardWatcher{
		ctx:      ctx,
		reader:   reader,
		interval: interval,
		done:     make(chan struct{}),
		onRemove: onRemove,
	}
	go w.run()
	return w, nil
}

func (w *cardWatcher) run() {
	defer w.ctx.Release()
	states := []scard.ReaderState{{Reader: w.reader, CurrentState: scard.StateUnaware}}
	for {
		select {
		case <-w.done:
			return
		default:
		}
		err := w.ctx.GetStatusChange(states, w.interval)
		if err != nil {
			if err != scard.ErrTimeout && err != scard.ErrCancelled {
				time.Sleep(w.interval)
			}
			continue
		}
		if states[0].EventState&scard.StateEmpty != 0 {
			select {
			case <-w.done:
			default:
				w.onRemove()
			}
			return
		}
		states[0].CurrentState = states[0].EventState
	}
}

func (w *cardWatcher) stop() {
	close(w.done)
	_ = w.ctx.Cancel()
}
