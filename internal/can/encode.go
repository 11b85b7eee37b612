package can

import (
	"errors"
	"strings"
)

var (
	ErrInvalidID  = errors.New("can: identifier exceeds 11 bits")
	ErrInvalidLen = errors.New("can: data longer than 8 bytes")
	ErrRemoteData = errors.New("can: remote frame carries data")
)

const maxStdID = 0x7FF

// Message is the content of a CAN 2.0A data or remote frame.
type Message struct {
	ID   uint16 `json:"id"`
	RTR  bool   `json:"rtr"`
	Data Bytes  `json:"data"`
	// NoACK leaves the ACK slot recessive, as seen by a transmitter that
	// received no acknowledgement.
	NoACK bool `json:"no_ack"`
}

func (m Message) Validate() error {
	if m.ID > maxStdID {
		return ErrInvalidID
	}
	if len(m.Data) > maxDataLen {
		return ErrInvalidLen
	}
	if m.RTR && len(m.Data) > 0 {
		return ErrRemoteData
	}
	return nil
}

// Bits returns the destuffed bit string of the complete frame, from SOF
// through the interframe space, with the CRC computed over the frame.
func (m Message) Bits() (string, error) {
	bits, err := m.frameBits()
	if err != nil {
		return "", err
	}
	return bitString(bits), nil
}

// Encode returns the frame as it appears on the wire, with stuff bits.
func Encode(m Message) (string, error) {
	bits, err := m.frameBits()
	if err != nil {
		return "", err
	}
	l := Layout{DLCKnown: true, DLC: len(m.Data)}
	last, _ := l.LastCRCOffset()
	return bitString(stuffBits(bits, last)), nil
}

func (m Message) frameBits() ([]Bit, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	l := Layout{DLCKnown: true, DLC: len(m.Data)}
	bits := make([]Bit, 0, l.FrameBits())

	bits = append(bits, 0) // SOF
	bits = appendBits(bits, uint32(m.ID), widthID)
	bits = append(bits, boolBit(m.RTR), 0, 0) // RTR, IDE, r0
	bits = appendBits(bits, uint32(len(m.Data)), widthDLC)
	for _, b := range m.Data {
		bits = appendBits(bits, uint32(b), 8)
	}

	crc := Checksum15(bits[offsetID:])
	bits = appendBits(bits, uint32(crc), widthCRC)
	bits = append(bits, 1, boolBit(m.NoACK), 1) // CRC delimiter, ACK, ACK delimiter
	for i := 0; i < widthEOF+widthIFS; i++ {
		bits = append(bits, 1)
	}
	return bits, nil
}

// appendBits appends the low n bits of v, MSB first.
func appendBits(bits []Bit, v uint32, n int) []Bit {
	for i := n - 1; i >= 0; i-- {
		bits = append(bits, Bit(v>>uint(i)&1))
	}
	return bits
}

func boolBit(v bool) Bit {
	if v {
		return 1
	}
	return 0
}

func bitString(bits []Bit) string {
	var sb strings.Builder
	sb.Grow(len(bits))
	for _, b := range bits {
		sb.WriteByte('0' + byte(b))
	}
	return sb.String()
}
