package iccd

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// VendorSignature is the USB manufacturer string identifying a PicoKey.
const VendorSignature = "Pol Henarejos"

// Endpoints holds the endpoint addresses resolved during discovery.
// Interrupt is zero when the interface exposes no interrupt-in endpoint.
type Endpoints struct {
	In        uint8
	Out       uint8
	Interrupt uint8
}

// bulkReader and bulkWriter cover the endpoint surface the driver needs.
// *gousb.InEndpoint and *gousb.OutEndpoint satisfy them.
type bulkReader interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

type bulkWriter interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// binding is one opened device with its claimed vendor interface and
// endpoint handles. Invalidated by close.
type binding struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   bulkReader
	out  bulkWriter
	eps  Endpoints
}

func (b *binding) close() {
	if b.intf != nil {
		b.intf.Close()
		b.intf = nil
	}
	if b.cfg != nil {
		_ = b.cfg.Close()
		b.cfg = nil
	}
	if b.dev != nil {
		_ = b.dev.Close()
		b.dev = nil
	}
}

// hasSmartCardClass matches devices exposing a smart-card class signature
// either at the device level or on any interface.
func hasSmartCardClass(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassSmartCard {
		return true
	}
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassSmartCard {
					return true
				}
			}
		}
	}
	return false
}

// locate scans the bus for the one device carrying the vendor signature,
// activates its configuration and claims the vendor-specific interface,
// resolving its bulk and interrupt endpoints. Runs once; no retries.
func locate(ctx *gousb.Context) (*binding, error) {
	devs, err := ctx.OpenDevices(hasSmartCardClass)
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, ErrNotFound
	}

	var chosen *gousb.Device
	for _, dev := range devs {
		if chosen == nil {
			if m, err := dev.Manufacturer(); err == nil && m == VendorSignature {
				chosen = dev
				continue
			}
		}
		_ = dev.Close()
	}
	if chosen == nil {
		return nil, ErrNotFound
	}

	b, err := bindVendorInterface(chosen)
	if err != nil {
		_ = chosen.Close()
		return nil, err
	}
	return b, nil
}

func bindVendorInterface(dev *gousb.Device) (*binding, error) {
	_ = dev.SetAutoDetach(true)

	for _, cfgDesc := range dev.Desc.Configs {
		for _, intfDesc := range cfgDesc.Interfaces {
			alt := intfDesc.AltSettings[0]
			if alt.Class != gousb.ClassVendorSpec {
				continue
			}

			var eps Endpoints
			var inNum, outNum int
			for _, ep := range alt.Endpoints {
				switch {
				case ep.Direction == gousb.EndpointDirectionIn && ep.TransferType == gousb.TransferTypeInterrupt:
					eps.Interrupt = uint8(ep.Address)
				case ep.Direction == gousb.EndpointDirectionIn:
					eps.In = uint8(ep.Address)
					inNum = ep.Number
				case ep.Direction == gousb.EndpointDirectionOut:
					eps.Out = uint8(ep.Address)
					outNum = ep.Number
				}
			}
			if eps.In == 0 || eps.Out == 0 {
				continue
			}

			// Config activates the configuration on the device.
			cfg, err := dev.Config(cfgDesc.Number)
			if err != nil {
				return nil, fmt.Errorf("iccd: set configuration %d: %w", cfgDesc.Number, err)
			}
			intf, err := cfg.Interface(alt.Number, 0)
			if err != nil {
				_ = cfg.Close()
				return nil, fmt.Errorf("iccd: claim interface %d: %w", alt.Number, err)
			}
			in, err := intf.InEndpoint(inNum)
			if err != nil {
				intf.Close()
				_ = cfg.Close()
				return nil, fmt.Errorf("iccd: open in endpoint %#02x: %w", eps.In, err)
			}
			out, err := intf.OutEndpoint(outNum)
			if err != nil {
				intf.Close()
				_ = cfg.Close()
				return nil, fmt.Errorf("iccd: open out endpoint %#02x: %w", eps.Out, err)
			}

			return &binding{
				dev:  dev,
				cfg:  cfg,
				intf: intf,
				in:   in,
				out:  out,
				eps:  eps,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: no vendor-specific interface", ErrNotFound)
}
