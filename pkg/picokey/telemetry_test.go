package picokey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhy(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{
		{payload: []byte{0x01, 0x02, 0x03}, sw1: 0x90, sw2: 0x00},
	}}
	k := newTestSession(tr, ConnectionRescue)

	blob, err := k.Phy()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, blob)

	// Query APDU with an unrestricted expected length.
	want := []byte{0x80, 0x1E, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}
	require.Len(t, tr.sent, 1)
	assert.Equal(t, want, tr.sent[0])
}

func TestSetPhy(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{{sw1: 0x90, sw2: 0x00}}}
	k := newTestSession(tr, ConnectionRescue)

	require.NoError(t, k.SetPhy([]byte{0xAA, 0xBB}))

	want := []byte{0x80, 0x1C, 0x01, 0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB, 0x00, 0x00}
	require.Len(t, tr.sent, 1)
	assert.Equal(t, want, tr.sent[0])
}

func TestFlash(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{
		{payload: []byte{
			0x00, 0x01, 0x00, 0x00, // free
			0x00, 0x00, 0x80, 0x00, // used
			0x00, 0x01, 0x80, 0x00, // total
			0x00, 0x00, 0x00, 0x0C, // files
			0x00, 0x00, 0x10, 0x00, // file size
		}, sw1: 0x90, sw2: 0x00},
	}}
	k := newTestSession(tr, ConnectionRescue)

	fi := k.FlashInfo()
	assert.Equal(t, uint32(0x10000), fi.Free)
	assert.Equal(t, uint32(0x8000), fi.Used)
	assert.Equal(t, uint32(0x18000), fi.Total)
	assert.Equal(t, uint32(12), fi.Files)
	assert.Equal(t, uint32(0x1000), fi.FileSize)
}

func TestFlash_ZeroValueOnFailure(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{{err: errors.New("pipe stall")}, {err: errors.New("pipe stall")}}}
	tr.reconnectErr = errors.New("device gone")
	k := newTestSession(tr, ConnectionSmartcard)

	assert.Equal(t, FlashInfo{}, k.FlashInfo())
}

func TestFlash_ZeroValueOnShortResponse(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{
		{payload: []byte{0x00, 0x01}, sw1: 0x90, sw2: 0x00},
	}}
	k := newTestSession(tr, ConnectionRescue)

	assert.Equal(t, FlashInfo{}, k.FlashInfo())
}

func TestSecureInfo(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{
		{payload: []byte{0x01, 0x00, 0x02}, sw1: 0x90, sw2: 0x00},
	}}
	k := newTestSession(tr, ConnectionRescue)

	info, err := k.SecureInfo()
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.False(t, info.Locked)
	assert.Equal(t, byte(0x02), info.BootKey)
}

func TestSecureInfo_PropagatesError(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{{sw1: 0x6D, sw2: 0x00}}}
	k := newTestSession(tr, ConnectionSmartcard)

	_, err := k.SecureInfo()
	assert.Error(t, err)
}

func TestSecureBoot(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{{sw1: 0x90, sw2: 0x00}}}
	k := newTestSession(tr, ConnectionRescue)

	require.NoError(t, k.SecureBoot(0x01, true))

	want := []byte{0x80, 0x1C, 0x02, 0x00, 0x00, 0x00, 0x02, 0x01, 0x01, 0x00, 0x00}
	require.Len(t, tr.sent, 1)
	assert.Equal(t, want, tr.sent[0])
}

func TestReboot(t *testing.T) {
	tr := &fakeTransport{replies: []scriptedReply{{sw1: 0x90, sw2: 0x00}}}
	k := newTestSession(tr, ConnectionRescue)

	require.NoError(t, k.Reboot(true))

	require.Len(t, tr.sent, 1)
	assert.Equal(t, []byte{0x80, 0x1F, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, tr.sent[0])
}
