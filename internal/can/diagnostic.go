package can

import "fmt"

// ErrorKind classifies a Diagnostic.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindStuff             ErrorKind = "stuff"
	KindSOF               ErrorKind = "sof"
	KindReservedBit       ErrorKind = "reserved_bit"
	KindDLCRange          ErrorKind = "dlc_range"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindCRCMismatch       ErrorKind = "crc_mismatch"
)

// Kinds lists every ErrorKind in a stable order.
var Kinds = []ErrorKind{
	KindInvalidInput,
	KindStuff,
	KindSOF,
	KindReservedBit,
	KindDLCRange,
	KindUnsupportedFormat,
	KindCRCMismatch,
}

// Diagnostic is one decoding problem. Bit and Index refer to the offending
// raw input bit and are nil when the problem is not tied to a single bit.
type Diagnostic struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Bit     *Bit      `json:"bit,omitempty"`
	Index   *int      `json:"index,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Index != nil {
		return fmt.Sprintf("%s@%d: %s", d.Kind, *d.Index, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// diagnostics is the append-only accumulator shared by every decoding stage.
type diagnostics []Diagnostic

func (ds *diagnostics) add(kind ErrorKind, msg string) {
	*ds = append(*ds, Diagnostic{Kind: kind, Message: msg})
}

func (ds *diagnostics) addAt(kind ErrorKind, msg string, bit Bit, index int) {
	*ds = append(*ds, Diagnostic{Kind: kind, Message: msg, Bit: bitPtr(bit), Index: intPtr(index)})
}
