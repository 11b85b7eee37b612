package can

import (
	"fmt"
	"strings"
	"unicode"
)

// Options controls a single Decode call.
type Options struct {
	// SkipDestuff declares the input already destuffed: no bit is ever
	// treated as a stuff bit and no stuff diagnostics are produced.
	SkipDestuff bool
}

// Decode parses a CAN 2.0A data frame from a string of '0' and '1'
// characters. Whitespace anywhere in the input is ignored.
//
// Decode never fails: every problem is reported in Frame.Errors and every
// field the input did not reach is left unknown.
func Decode(bits string, opts Options) *Frame {
	raw := stripSpace(bits)
	f := &Frame{
		RawInput:   raw,
		Destuffing: !opts.SkipDestuff,
		StuffBits:  []int{},
		Errors:     []Diagnostic{},
	}

	if !isBinary(raw) {
		f.MissingBits = minFrameBits
		f.Errors = append(f.Errors, Diagnostic{
			Kind:    KindInvalidInput,
			Message: "input bit string should contain only 1s and 0s",
		})
		return f
	}

	d := decoder{frame: f, destuff: !opts.SkipDestuff}
	f.fields = make([]assignment, len(raw))
	for i := 0; i < len(raw); i++ {
		d.step(i, Bit(raw[i]-'0'))
	}
	d.finish()
	return f
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isBinary(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return false
		}
	}
	return true
}

// decoder holds the per-call state. Destuffing, field assignment and the CRC
// register advance together because the end of the stuffed region depends on
// the DLC decoded earlier in the same pass.
type decoder struct {
	frame   *Frame
	destuff bool
	diags   diagnostics

	stuffer destuffer
	layout  Layout
	crc     CRC15
	offset  int

	// accumulators for multi-bit fields
	id   uint16
	dlc  uint8
	data byte
	crcR uint16
}

func (d *decoder) step(index int, b Bit) {
	if d.destuff && d.stuffing() {
		stuff, violation := d.stuffer.next(b)
		if violation {
			d.diags.addAt(KindStuff, fmt.Sprintf("stuff bit error at position %d", index), b, index)
		}
		if stuff {
			d.frame.StuffBits = append(d.frame.StuffBits, index)
			d.frame.fields[index] = assignment{field: FieldNone, offset: -1, stuff: true}
			return
		}
	}

	field, pos := d.layout.Locate(d.offset)
	d.frame.fields[index] = assignment{field: field, pos: pos, offset: d.offset}
	d.assign(field, pos, b, index)

	if d.offset >= offsetID && d.offset <= d.layout.LastCRCInputOffset() {
		d.crc.Add(b)
	}
	d.offset++
}

// stuffing reports whether the next destuffed offset lies inside the
// stuffed region. Before the DLC is known the end cannot have been passed.
func (d *decoder) stuffing() bool {
	last, ok := d.layout.LastCRCOffset()
	return !ok || d.offset <= last
}

func (d *decoder) assign(field Field, pos int, b Bit, index int) {
	f := d.frame
	switch field {
	case FieldSOF:
		f.SOF = bitPtr(b)
		if b != 0 {
			d.diags.addAt(KindSOF, "SOF error - should be 0", b, index)
		}
	case FieldID:
		d.id = d.id<<1 | uint16(b)
		if pos == widthID-1 {
			id := d.id
			f.ID = &id
		}
	case FieldRTR:
		f.RTR = bitPtr(b)
	case FieldIDE:
		f.IDE = bitPtr(b)
		if b == 1 {
			d.layout.Extended = true
			d.diags.addAt(KindUnsupportedFormat, "IDE has value 1 - CAN 2.0B frames are not supported", b, index)
		}
	case FieldReserved:
		f.Reserved = bitPtr(b)
		if b != 0 {
			d.diags.addAt(KindReservedBit, "r0 error - should be 0", b, index)
		}
	case FieldDLC:
		d.dlc = d.dlc<<1 | uint8(b)
		if pos == widthDLC-1 {
			d.setDLC(d.dlc)
		}
	case FieldData:
		d.data = d.data<<1 | byte(b)
		if pos%8 == 7 {
			f.Data = append(f.Data, d.data)
			d.data = 0
		}
	case FieldCRC:
		d.crcR = d.crcR<<1 | uint16(b)
		if pos == widthCRC-1 {
			crc := d.crcR
			f.CRCReceived = &crc
		}
	case FieldCRCDelimiter:
		f.CRCDelimiter = bitPtr(b)
	case FieldACK:
		f.ACK = bitPtr(b)
	case FieldACKDelimiter:
		f.ACKDelimiter = bitPtr(b)
	case FieldEOF:
		f.EOF += bitChar(b)
	case FieldIFS:
		f.IFS += bitChar(b)
	case FieldTrailing:
		f.ExtraBits++
	}
}

// setDLC records the raw code and clamps the length every later offset is
// computed from.
func (d *decoder) setDLC(raw uint8) {
	f := d.frame
	rawCopy := raw
	f.RawDLC = &rawCopy

	dlc := raw
	if dlc > maxDLC {
		dlc = maxDLC
		d.diags.add(KindDLCRange, fmt.Sprintf("DLC must be from range [0-8], got %d", raw))
	}
	f.DLC = &dlc
	d.layout.DLC = int(dlc)
	d.layout.DLCKnown = true
	if dlc == 0 {
		f.Data = Bytes{}
	}
}

func (d *decoder) finish() {
	f := d.frame
	if missing := d.layout.FrameBits() - d.offset; missing > 0 {
		f.MissingBits = missing
	}

	f.CRCComputed = d.crc.Sum()
	if f.CRCReceived != nil && *f.CRCReceived != f.CRCComputed {
		d.diags.add(KindCRCMismatch, fmt.Sprintf("CRC error - calculated: 0x%X, received: 0x%X", f.CRCComputed, *f.CRCReceived))
	}
	f.Errors = append(f.Errors, d.diags...)
}

func bitChar(b Bit) string {
	if b == 0 {
		return "0"
	}
	return "1"
}
