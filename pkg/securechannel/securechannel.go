// Package securechannel encapsulates APDU traffic under a session
// negotiated out of band. The channel is constructed from a shared secret
// and a nonce; session keys are derived with HKDF-SHA256 and split into a
// MAC half and a cipher half. Frames are sealed with AES-256-GCM under
// per-direction monotonic counters, so a replayed or reordered frame fails
// authentication on the remote side.
package securechannel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/go-picokey/picokey/pkg/apdu"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12

	dirCommand  = 0x01
	dirResponse = 0x02
)

var hkdfInfo = []byte("PicoKey Secure Channel")

// Channel holds the derived session state. A host endpoint uses
// WrapAPDU/UnwrapRAPDU; the device side of the same session (a second
// Channel built from the same secret and nonce) uses
// UnwrapCommand/WrapResponse. Not safe for concurrent use.
type Channel struct {
	nonce   []byte
	macKey  []byte
	aead    cipher.AEAD
	cmdSeq  uint64
	respSeq uint64
}

// New derives the session keys from the shared secret and nonce.
func New(shared, nonce []byte) (*Channel, error) {
	keys := make([]byte, 2*keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nonce, hkdfInfo), keys); err != nil {
		return nil, fmt.Errorf("securechannel: key derivation: %w", err)
	}

	block, err := aes.NewCipher(keys[keySize:])
	if err != nil {
		return nil, fmt.Errorf("securechannel: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("securechannel: %w", err)
	}

	return &Channel{
		nonce:  append([]byte(nil), nonce...),
		macKey: keys[:keySize],
		aead:   aead,
	}, nil
}

func gcmNonce(direction byte, seq uint64) []byte {
	n := make([]byte, nonceSize)
	n[0] = direction
	binary.BigEndian.PutUint64(n[4:], seq)
	return n
}

// tokenDigest is the value the peer signs to prove it established this
// session: SHA-256 over an HMAC of the nonce under the session MAC key.
func (c *Channel) tokenDigest() []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(c.nonce)
	digest := sha256.Sum256(mac.Sum(nil))
	return digest[:]
}

// VerifyToken authenticates the session-establishment token against the
// peer's public key, given as an uncompressed SEC1 P-256 point. It returns
// false, never an error, on any mismatch or malformed input so the caller
// decides whether session setup aborts.
func (c *Channel) VerifyToken(token, peerPublicKey []byte) bool {
	if len(peerPublicKey) != 65 || peerPublicKey[0] != 0x04 {
		return false
	}
	x := new(big.Int).SetBytes(peerPublicKey[1:33])
	y := new(big.Int).SetBytes(peerPublicKey[33:])
	if !elliptic.P256().IsOnCurve(x, y) {
		return false
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	return ecdsa.VerifyASN1(pub, c.tokenDigest(), token)
}

// WrapAPDU seals an outgoing command frame. The command counter advances
// per call.
func (c *Channel) WrapAPDU(frame []byte) []byte {
	sealed := c.aead.Seal(nil, gcmNonce(dirCommand, c.cmdSeq), frame, nil)
	c.cmdSeq++
	return sealed
}

// UnwrapRAPDU opens an incoming wrapped response and yields the original
// payload and status word. Authentication failure surfaces as an
// apdu.Error with status 0x6988, not a transport error.
func (c *Channel) UnwrapRAPDU(wrapped []byte) ([]byte, apdu.StatusWord, error) {
	plain, err := c.aead.Open(nil, gcmNonce(dirResponse, c.respSeq), wrapped, nil)
	if err != nil {
		return nil, apdu.SWSMObjectIncorrect, apdu.NewError(apdu.SWSMObjectIncorrect)
	}
	c.respSeq++

	payload, sw, err := apdu.Split(plain)
	if err != nil {
		return nil, apdu.SWSMObjectIncorrect, apdu.NewError(apdu.SWSMObjectIncorrect)
	}
	return payload, sw, nil
}

// UnwrapCommand opens a wrapped command frame on the device side of the
// session. Intended for device emulation and tests.
func (c *Channel) UnwrapCommand(wrapped []byte) ([]byte, error) {
	plain, err := c.aead.Open(nil, gcmNonce(dirCommand, c.cmdSeq), wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("securechannel: command authentication failed: %w", err)
	}
	c.cmdSeq++
	return plain, nil
}

// WrapResponse seals a response payload and status word on the device side
// of the session. Intended for device emulation and tests.
func (c *Channel) WrapResponse(payload []byte, sw apdu.StatusWord) []byte {
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, payload...)
	frame = append(frame, sw.SW1(), sw.SW2())

	sealed := c.aead.Seal(nil, gcmNonce(dirResponse, c.respSeq), frame, nil)
	c.respSeq++
	return sealed
}
