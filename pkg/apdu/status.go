package apdu

import "fmt"

// StatusWord is the two-byte status (SW1-SW2) terminating every response.
type StatusWord uint16

// NewStatusWord combines SW1 and SW2 into a single code.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high status byte.
func (sw StatusWord) SW1() byte { return byte(sw >> 8) }

// SW2 returns the low status byte.
func (sw StatusWord) SW2() byte { return byte(sw) }

// IsSuccess reports whether the command completed successfully.
func (sw StatusWord) IsSuccess() bool { return sw.SW1() == 0x90 }

// HasMoreData reports a 61XX status: SW2 more response bytes are waiting
// for retrieval via GET RESPONSE.
func (sw StatusWord) HasMoreData() bool { return sw.SW1() == 0x61 }

// IsCounterWarning reports a 63CX status, a soft warning carrying a counter
// in the low nibble (e.g. remaining retries). Not an error.
func (sw StatusWord) IsCounterWarning() bool {
	return sw.SW1() == 0x63 && sw.SW2()&0xF0 == 0xC0
}

// Common status codes defined by ISO/IEC 7816-4.
const (
	SWNoError StatusWord = 0x9000

	SWBytesRemaining StatusWord = 0x6100
	SWCounterBase    StatusWord = 0x63C0

	SWMemoryFailure         StatusWord = 0x6581
	SWWrongLength           StatusWord = 0x6700
	SWSecurityNotSatisfied  StatusWord = 0x6982
	SWAuthMethodBlocked     StatusWord = 0x6983
	SWConditionsNotMet      StatusWord = 0x6985
	SWSMObjectIncorrect     StatusWord = 0x6988
	SWIncorrectParams       StatusWord = 0x6A80
	SWFuncNotSupported      StatusWord = 0x6A81
	SWFileNotFound          StatusWord = 0x6A82
	SWRecordNotFound        StatusWord = 0x6A83
	SWNotEnoughMemory       StatusWord = 0x6A84
	SWIncorrectP1P2         StatusWord = 0x6A86
	SWReferenceDataNotFound StatusWord = 0x6A88
	SWWrongP1P2             StatusWord = 0x6B00
	SWInvalidInstruction    StatusWord = 0x6D00
	SWClassNotSupported     StatusWord = 0x6E00
	SWUnknown               StatusWord = 0x6F00
)

var swNames = map[StatusWord]string{
	SWNoError:               "no error",
	SWMemoryFailure:         "memory failure",
	SWWrongLength:           "wrong length",
	SWSecurityNotSatisfied:  "security status not satisfied",
	SWAuthMethodBlocked:     "authentication method blocked",
	SWConditionsNotMet:      "conditions of use not satisfied",
	SWSMObjectIncorrect:     "secure messaging data object incorrect",
	SWIncorrectParams:       "incorrect command parameters",
	SWFuncNotSupported:      "function not supported",
	SWFileNotFound:          "file or application not found",
	SWRecordNotFound:        "record not found",
	SWNotEnoughMemory:       "not enough memory space",
	SWIncorrectP1P2:         "incorrect parameters P1-P2",
	SWReferenceDataNotFound: "reference data not found",
	SWWrongP1P2:             "wrong parameters P1-P2",
	SWInvalidInstruction:    "instruction not supported or invalid",
	SWClassNotSupported:     "class not supported",
	SWUnknown:               "no precise diagnosis",
}

// String returns "SW1SW2: description" for known codes, decoding the
// dynamic 61XX and 63CX ranges, or a bare hex code otherwise.
func (sw StatusWord) String() string {
	if sw.HasMoreData() {
		return fmt.Sprintf("%04X: %d more bytes available", uint16(sw), sw.SW2())
	}
	if sw.IsCounterWarning() {
		return fmt.Sprintf("%04X: warning, counter = %d", uint16(sw), sw.SW2()&0x0F)
	}
	if name, ok := swNames[sw]; ok {
		return fmt.Sprintf("%04X: %s", uint16(sw), name)
	}
	return fmt.Sprintf("%04X", uint16(sw))
}
