package picokey

import "fmt"

// ConnectionType identifies which transport a session runs over. Set once
// at construction, immutable afterwards.
type ConnectionType int

const (
	ConnectionUnknown ConnectionType = iota
	ConnectionSmartcard
	ConnectionRescue
)

func (c ConnectionType) String() string {
	switch c {
	case ConnectionSmartcard:
		return "smartcard"
	case ConnectionRescue:
		return "rescue"
	default:
		return "unknown"
	}
}

// Platform is the controller family reported by the applet-select response.
type Platform byte

const (
	PlatformRP2040 Platform = iota
	PlatformRP2350
	PlatformESP32
	PlatformEmulation
)

func (p Platform) String() string {
	switch p {
	case PlatformRP2040:
		return "RP2040"
	case PlatformRP2350:
		return "RP2350"
	case PlatformESP32:
		return "ESP32"
	case PlatformEmulation:
		return "emulation"
	default:
		return fmt.Sprintf("platform(%d)", byte(p))
	}
}

// Product is the firmware personality reported by the applet-select
// response.
type Product byte

const (
	ProductUnknown Product = iota
	ProductHSM
	ProductFIDO
	ProductOpenPGP
)

func (p Product) String() string {
	switch p {
	case ProductHSM:
		return "HSM"
	case ProductFIDO:
		return "FIDO"
	case ProductOpenPGP:
		return "OpenPGP"
	default:
		return "unknown"
	}
}

// Version is the firmware version from the applet-select response.
type Version struct {
	Major byte
	Minor byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
