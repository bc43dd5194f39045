// Package apdu implements the command/response framing the PicoKey speaks:
// extended-length ISO 7816 APDUs terminated by a two-byte status word.
//
// Commands always use the extended layout
//
//	[CLA, INS, P1, P2, 0x00, LcHi, LcLo, <data...>, NeHi, NeLo]
//
// with a three-byte length field (zero prefix plus 16-bit big-endian data
// length, 00 00 00 when there is no data) and a two-byte expected-length
// field where 00 00 means "any amount".
package apdu

import (
	"encoding/binary"
	"fmt"
)

// Command is a command APDU. Ins holds one or more instruction bytes; a
// multi-byte Ins is a full opcode selector and replaces [Cla, Ins] in the
// emitted header.
type Command struct {
	Cla  byte
	Ins  []byte
	P1   byte
	P2   byte
	Data []byte
	Ne   int
}

// New builds a command with a single-byte instruction.
func New(cla, ins, p1, p2 byte) *Command {
	return &Command{Cla: cla, Ins: []byte{ins}, P1: p1, P2: p2}
}

// WithData attaches a command payload.
func (c *Command) WithData(data []byte) *Command {
	c.Data = data
	return c
}

// WithNe sets the expected response length. Zero means unrestricted.
func (c *Command) WithNe(ne int) *Command {
	c.Ne = ne
	return c
}

// Bytes encodes the command into its extended-length wire form.
func (c *Command) Bytes() []byte {
	buf := make([]byte, 0, 4+3+len(c.Data)+2)

	if len(c.Ins) > 1 {
		buf = append(buf, c.Ins...)
	} else {
		buf = append(buf, c.Cla, c.Ins[0])
	}
	buf = append(buf, c.P1, c.P2)

	lc := make([]byte, 3)
	binary.BigEndian.PutUint16(lc[1:], uint16(len(c.Data)))
	buf = append(buf, lc...)
	buf = append(buf, c.Data...)

	ne := make([]byte, 2)
	binary.BigEndian.PutUint16(ne, uint16(c.Ne))
	return append(buf, ne...)
}

// String returns the command meta-data without the payload bytes.
func (c *Command) String() string {
	return fmt.Sprintf("% X | P1: %02X, P2: %02X | Lc: %d | Ne: %d",
		c.Ins, c.P1, c.P2, len(c.Data), c.Ne)
}

// Split separates a raw response APDU into its payload and status word.
// The input must contain at least the two trailing status bytes.
func Split(raw []byte) ([]byte, StatusWord, error) {
	if len(raw) < 2 {
		return nil, 0, fmt.Errorf("apdu: response too short (%d bytes)", len(raw))
	}
	n := len(raw) - 2
	return raw[:n], NewStatusWord(raw[n], raw[n+1]), nil
}
