package can

import (
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Bit is a single decoded bus bit: 0 (dominant) or 1 (recessive).
type Bit uint8

// Bytes holds the data field. It marshals to JSON as an uppercase hex string,
// or null when the data field has not been observed.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(strings.ToUpper(hex.EncodeToString(b)))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = Bytes(raw)
	return nil
}

// Frame is the result of decoding one bit string.
//
// Pointer fields are nil (null in JSON) until the input has supplied every bit
// of that field. EOF and IFS hold the literal bits seen so far and are empty
// when none were seen. A Frame is never modified after Decode returns it.
type Frame struct {
	RawInput   string `json:"raw_input"`
	Destuffing bool   `json:"destuffing_enabled"`
	StuffBits  []int  `json:"stuff_bit_positions"`

	SOF          *Bit    `json:"start_of_frame"`
	ID           *uint16 `json:"identifier"`
	RTR          *Bit    `json:"remote_transmission_request"`
	IDE          *Bit    `json:"identifier_extension"`
	Reserved     *Bit    `json:"reserved_bit"`
	RawDLC       *uint8  `json:"raw_data_length_code"`
	DLC          *uint8  `json:"data_length_code"`
	Data         Bytes   `json:"data_bytes"`
	CRCReceived  *uint16 `json:"crc_received"`
	CRCDelimiter *Bit    `json:"crc_delimiter"`
	ACK          *Bit    `json:"ack"`
	ACKDelimiter *Bit    `json:"ack_delimiter"`
	EOF          string  `json:"end_of_frame_bits"`
	IFS          string  `json:"interframe_space_bits"`

	CRCComputed uint16 `json:"crc_computed"`
	MissingBits int    `json:"missing_bit_count"`
	ExtraBits   int    `json:"extra_bit_count"`

	Errors []Diagnostic `json:"errors"`

	// fields[i] is the field assignment of raw input bit i.
	fields []assignment
}

type assignment struct {
	field  Field
	pos    int
	offset int
	stuff  bool
}

// Valid reports whether the frame was decoded completely without diagnostics.
func (f *Frame) Valid() bool {
	return f != nil && len(f.Errors) == 0 && f.MissingBits == 0
}

// HasError reports whether a diagnostic of the given kind was recorded.
func (f *Frame) HasError(kind ErrorKind) bool {
	return f.CountErrors(kind) > 0
}

// CountErrors returns the number of diagnostics of the given kind.
func (f *Frame) CountErrors(kind ErrorKind) int {
	if f == nil {
		return 0
	}
	n := 0
	for _, d := range f.Errors {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Extended reports whether the frame announced a 29-bit identifier.
func (f *Frame) Extended() bool {
	return f != nil && f.IDE != nil && *f.IDE == 1
}

func bitPtr(b Bit) *Bit { return &b }

func intPtr(i int) *int { return &i }
