package can

import "fmt"

// Field identifies a CAN 2.0A frame field in the destuffed bit stream.
type Field uint8

const (
	FieldNone Field = iota
	FieldSOF
	FieldID
	FieldRTR
	FieldIDE
	FieldReserved
	FieldDLC
	FieldData
	FieldCRC
	FieldCRCDelimiter
	FieldACK
	FieldACKDelimiter
	FieldEOF
	FieldIFS
	// FieldExtended covers everything after IDE in a 29-bit identifier frame.
	FieldExtended
	// FieldTrailing covers bits after the interframe space.
	FieldTrailing
)

var fieldNames = [...]string{
	FieldNone:         "none",
	FieldSOF:          "start_of_frame",
	FieldID:           "identifier",
	FieldRTR:          "remote_transmission_request",
	FieldIDE:          "identifier_extension",
	FieldReserved:     "reserved_bit",
	FieldDLC:          "data_length_code",
	FieldData:         "data_bytes",
	FieldCRC:          "crc_received",
	FieldCRCDelimiter: "crc_delimiter",
	FieldACK:          "ack",
	FieldACKDelimiter: "ack_delimiter",
	FieldEOF:          "end_of_frame_bits",
	FieldIFS:          "interframe_space_bits",
	FieldExtended:     "extended_format",
	FieldTrailing:     "trailing",
}

func (f Field) String() string {
	if int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return "unknown"
}

func (f Field) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Field) UnmarshalText(text []byte) error {
	for i, name := range fieldNames {
		if name == string(text) {
			*f = Field(i)
			return nil
		}
	}
	return fmt.Errorf("can: unknown field %q", text)
}

// Fixed offsets of the CAN 2.0A header.
const (
	offsetSOF      = 0
	offsetID       = 1
	offsetRTR      = 12
	offsetIDE      = 13
	offsetReserved = 14
	offsetDLC      = 15
	offsetData     = 19

	widthID    = 11
	widthDLC   = 4
	widthCRC   = 15
	widthEOF   = 7
	widthIFS   = 3
	maxDLC     = 8
	maxDataLen = 8

	// minFrameBits is the length of a zero-data frame: 19 + 24 + 4.
	minFrameBits = 47
)

type span struct {
	field Field
	start int
	width int
}

var headSpans = []span{
	{FieldSOF, offsetSOF, 1},
	{FieldID, offsetID, widthID},
	{FieldRTR, offsetRTR, 1},
	{FieldIDE, offsetIDE, 1},
	{FieldReserved, offsetReserved, 1},
	{FieldDLC, offsetDLC, widthDLC},
}

// Layout places fields at destuffed offsets for a frame whose format bits
// are known so far. The zero value describes a standard frame whose DLC has
// not been decoded yet.
type Layout struct {
	Extended bool
	DLCKnown bool
	DLC      int
}

// Locate returns the field covering offset and the bit position inside it.
func (l Layout) Locate(offset int) (Field, int) {
	if offset < 0 {
		return FieldNone, 0
	}
	for _, s := range headSpans {
		if l.Extended && s.field == FieldReserved {
			return FieldExtended, offset - offsetReserved
		}
		if offset < s.start+s.width {
			return s.field, offset - s.start
		}
	}
	if !l.DLCKnown {
		return FieldNone, 0
	}

	start := offsetData
	for _, s := range l.tailSpans() {
		if offset < start+s.width {
			return s.field, offset - start
		}
		start += s.width
	}
	return FieldTrailing, offset - start
}

func (l Layout) tailSpans() []span {
	return []span{
		{field: FieldData, width: 8 * l.dlc()},
		{field: FieldCRC, width: widthCRC},
		{field: FieldCRCDelimiter, width: 1},
		{field: FieldACK, width: 1},
		{field: FieldACKDelimiter, width: 1},
		{field: FieldEOF, width: widthEOF},
		{field: FieldIFS, width: widthIFS},
	}
}

func (l Layout) dlc() int {
	if !l.DLCKnown {
		return 0
	}
	return l.DLC
}

// LastCRCOffset is the offset of the final CRC bit, the end of the stuffed
// region. Until the DLC is known it is reported as not yet reachable.
func (l Layout) LastCRCOffset() (int, bool) {
	if !l.DLCKnown || l.Extended {
		return 0, false
	}
	return offsetData + 8*l.DLC + widthCRC - 1, true
}

// LastCRCInputOffset is the last offset covered by the CRC computation:
// the final data bit, or the final DLC bit of a zero-length frame.
func (l Layout) LastCRCInputOffset() int {
	return offsetData - 1 + 8*l.dlc()
}

// FrameBits is the destuffed length of a complete frame under this layout,
// assuming a zero-length data field while the DLC is unknown.
func (l Layout) FrameBits() int {
	return offsetData + 8*l.dlc() + widthCRC + 1 + 1 + 1 + widthEOF + widthIFS
}
