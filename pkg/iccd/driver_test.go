package iccd

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEndpoint struct {
	writes     [][]byte
	replies    [][]byte
	writeErr   error
	readErr    error
	shortWrite bool
}

func (f *fakeEndpoint) WriteContext(_ context.Context, b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, slices.Clone(b))
	if f.shortWrite {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (f *fakeEndpoint) ReadContext(_ context.Context, buf []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.replies) == 0 {
		return 0, io.EOF
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return copy(buf, r), nil
}

// reply frames a device bulk-in message.
func reply(msgType byte, data []byte) []byte {
	hdr := make([]byte, headerLen)
	hdr[0] = msgType
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(data)))
	return append(hdr, data...)
}

func newFakeDriver(ep *fakeEndpoint) *Driver {
	return &Driver{
		bind:    &binding{in: ep, out: ep, eps: Endpoints{In: 0x81, Out: 0x01}},
		power:   powerUnknown,
		timeout: time.Second,
	}
}

func TestDriver_PowerOff_Idempotent(t *testing.T) {
	ep := &fakeEndpoint{replies: [][]byte{reply(msgSlotStatus, nil)}}
	d := newFakeDriver(ep)

	require.NoError(t, d.PowerOff())
	require.NoError(t, d.PowerOff())

	require.Len(t, ep.writes, 1)
	assert.Equal(t, byte(msgIccPowerOff), ep.writes[0][0])
}

func TestDriver_Transmit_AutoPowerOn(t *testing.T) {
	ep := &fakeEndpoint{replies: [][]byte{
		reply(msgDataBlock, []byte{0x3B, 0x00}),             // ATR from power on
		reply(msgDataBlock, []byte{0x01, 0x02, 0x90, 0x00}), // APDU reply
	}}
	d := newFakeDriver(ep)
	d.power = powerIdle

	payload, sw1, sw2, err := d.Transmit([]byte{0x00, 0xA4, 0x04, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, payload)
	assert.Equal(t, byte(0x90), sw1)
	assert.Equal(t, byte(0x00), sw2)

	require.Len(t, ep.writes, 2)
	assert.Equal(t, byte(msgIccPowerOn), ep.writes[0][0])
	assert.Equal(t, byte(msgXfrBlock), ep.writes[1][0])

	// Second transmit must not power on again.
	ep.replies = [][]byte{reply(msgDataBlock, []byte{0x90, 0x00})}
	_, _, _, err = d.Transmit([]byte{0x00, 0xC0, 0x00, 0x00})
	require.NoError(t, err)
	require.Len(t, ep.writes, 3)
	assert.Equal(t, byte(msgXfrBlock), ep.writes[2][0])
}

func TestDriver_Frame_Layout(t *testing.T) {
	ep := &fakeEndpoint{replies: [][]byte{reply(msgDataBlock, []byte{0x90, 0x00})}}
	d := newFakeDriver(ep)
	d.power = powerActive

	apdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, _, _, err := d.Transmit(apdu)
	require.NoError(t, err)

	frame := ep.writes[0]
	require.Len(t, frame, headerLen+len(apdu))
	assert.Equal(t, byte(msgXfrBlock), frame[0])
	assert.Equal(t, uint32(len(apdu)), binary.LittleEndian.Uint32(frame[1:5]))
	assert.Equal(t, byte(0x00), frame[5]) // slot
	assert.Equal(t, apdu, frame[headerLen:])
}

func TestDriver_Exchange_ErrorPhases(t *testing.T) {
	ep := &fakeEndpoint{writeErr: errors.New("stall")}
	d := newFakeDriver(ep)
	_, err := d.Exchange([]byte{0x01}, time.Second)
	require.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "write")

	ep = &fakeEndpoint{readErr: errors.New("timeout")}
	d = newFakeDriver(ep)
	_, err = d.Exchange([]byte{0x01}, time.Second)
	require.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "read")
}

func TestDriver_Write_Short(t *testing.T) {
	ep := &fakeEndpoint{shortWrite: true}
	d := newFakeDriver(ep)

	err := d.Write([]byte{0x01, 0x02, 0x03}, time.Second)
	require.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "short write")
}

func TestDriver_Close_Idempotent(t *testing.T) {
	d := newFakeDriver(&fakeEndpoint{})

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.Read(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	err = d.Write([]byte{0x01}, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestParseReply(t *testing.T) {
	payload, err := parseReply(reply(msgDataBlock, []byte{0xDE, 0xAD}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, payload)

	_, err = parseReply([]byte{0x80, 0x01})
	assert.ErrorIs(t, err, ErrIO)

	bad := reply(msgDataBlock, nil)
	binary.LittleEndian.PutUint32(bad[1:5], 100)
	_, err = parseReply(bad)
	assert.ErrorIs(t, err, ErrIO)
}
