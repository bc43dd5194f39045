package iccd

import (
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
)

func descWithInterfaceClass(class gousb.Class) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{
					{
						Number: 0,
						AltSettings: []gousb.InterfaceSetting{
							{Number: 0, Class: class},
						},
					},
				},
			},
		},
	}
}

func TestHasSmartCardClass(t *testing.T) {
	assert.True(t, hasSmartCardClass(&gousb.DeviceDesc{Class: gousb.ClassSmartCard}))
	assert.True(t, hasSmartCardClass(descWithInterfaceClass(gousb.ClassSmartCard)))

	// A vendor-specific interface alone does not mark the device; the
	// locator selects on the manufacturer string and binds the vendor
	// interface afterwards.
	assert.False(t, hasSmartCardClass(descWithInterfaceClass(gousb.ClassVendorSpec)))
	assert.False(t, hasSmartCardClass(&gousb.DeviceDesc{Class: gousb.ClassHID}))
}
