package picokey

import (
	"encoding/binary"
	"fmt"

	"github.com/go-picokey/picokey/pkg/apdu"
)

const (
	claVendor = 0x80

	insConfig = 0x1C
	insQuery  = 0x1E
	insReboot = 0x1F
)

const (
	queryPhy        = 0x00
	queryFlashInfo  = 0x02
	querySecureInfo = 0x03

	configPhy        = 0x01
	configSecureBoot = 0x02
)

// FlashInfo describes the device filesystem occupancy.
type FlashInfo struct {
	Free     uint32
	Used     uint32
	Total    uint32
	Files    uint32
	FileSize uint32
}

// SecureBootInfo describes the secure-boot state of the device.
type SecureBootInfo struct {
	Enabled bool
	Locked  bool
	BootKey byte
}

// Phy returns the raw physical-layer configuration blob.
func (k *PicoKey) Phy() ([]byte, error) {
	resp, _, err := k.Send(apdu.New(claVendor, insQuery, queryPhy, 0x00).WithNe(256))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SetPhy writes a physical-layer configuration blob.
func (k *PicoKey) SetPhy(data []byte) error {
	_, _, err := k.Send(apdu.New(claVendor, insConfig, configPhy, 0x00).WithData(data))
	return err
}

// FlashInfo reports filesystem occupancy. Devices that do not implement
// the query yield the zero value rather than an error.
func (k *PicoKey) FlashInfo() FlashInfo {
	var fi FlashInfo
	resp, _, err := k.Send(apdu.New(claVendor, insQuery, queryFlashInfo, 0x00))
	if err != nil || len(resp) < 20 {
		return fi
	}
	fi.Free = binary.BigEndian.Uint32(resp[0:4])
	fi.Used = binary.BigEndian.Uint32(resp[4:8])
	fi.Total = binary.BigEndian.Uint32(resp[8:12])
	fi.Files = binary.BigEndian.Uint32(resp[12:16])
	fi.FileSize = binary.BigEndian.Uint32(resp[16:20])
	return fi
}

// SecureInfo reports the secure-boot state.
func (k *PicoKey) SecureInfo() (SecureBootInfo, error) {
	resp, _, err := k.Send(apdu.New(claVendor, insQuery, querySecureInfo, 0x00))
	if err != nil {
		return SecureBootInfo{}, err
	}
	if len(resp) < 3 {
		return SecureBootInfo{}, fmt.Errorf("picokey: short secure-boot response: %d bytes", len(resp))
	}
	return SecureBootInfo{
		Enabled: resp[0] != 0,
		Locked:  resp[1] != 0,
		BootKey: resp[2],
	}, nil
}

// SecureBoot enables secure boot with the given boot key slot, optionally
// locking the OTP area against further changes.
func (k *PicoKey) SecureBoot(bootKey byte, lock bool) error {
	data := []byte{bootKey, 0x00}
	if lock {
		data[1] = 0x01
	}
	_, _, err := k.Send(apdu.New(claVendor, insConfig, configSecureBoot, 0x00).WithData(data))
	return err
}

// Reboot restarts the device, into the bootloader when bootsel is set. The
// device drops off the bus, so the session should be closed afterwards.
func (k *PicoKey) Reboot(bootsel bool) error {
	p1 := byte(0x00)
	if bootsel {
		p1 = 0x01
	}
	_, _, err := k.Send(apdu.New(claVendor, insReboot, p1, 0x00))
	return err
}
