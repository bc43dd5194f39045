package iccd

// ICCD bulk-out message types. Each request is answered by exactly one
// bulk-in reply.
const (
	msgIccPowerOn  = 0x62
	msgIccPowerOff = 0x63
	msgXfrBlock    = 0x6F
)

// ICCD bulk-in message types.
const (
	msgDataBlock  = 0x80
	msgSlotStatus = 0x81
)

// Every ICCD message starts with a 10-byte header:
// bMessageType (1), dwLength (4, little-endian), bSlot (1), bSeq (1),
// three message-specific bytes.
const headerLen = 10

const readBufferSize = 4096
