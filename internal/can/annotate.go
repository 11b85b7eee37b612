package can

// BitAnnotation describes one raw input bit for overlay rendering.
type BitAnnotation struct {
	Index  int   `json:"index"`
	Value  Bit   `json:"value"`
	Stuff  bool  `json:"stuff"`
	Offset int   `json:"offset"`
	Field  Field `json:"field"`
	Pos    int   `json:"pos"`
}

// Annotate lists every raw input bit with the field it was assigned to.
// Stuff bits carry Offset -1 and FieldNone. Invalid input has no annotations.
func (f *Frame) Annotate() []BitAnnotation {
	if f == nil || len(f.fields) == 0 {
		return nil
	}
	out := make([]BitAnnotation, 0, len(f.fields))
	for i, a := range f.fields {
		out = append(out, BitAnnotation{
			Index:  i,
			Value:  Bit(f.RawInput[i] - '0'),
			Stuff:  a.stuff,
			Offset: a.offset,
			Field:  a.field,
			Pos:    a.pos,
		})
	}
	return out
}

// RawIndex maps a destuffed offset to the index of its bit in RawInput.
func (f *Frame) RawIndex(offset int) (int, bool) {
	if f == nil || offset < 0 {
		return 0, false
	}
	// Each stuff bit before the target shifts it right by one.
	idx := offset
	for _, s := range f.StuffBits {
		if s > idx {
			break
		}
		idx++
	}
	if idx >= len(f.fields) {
		return 0, false
	}
	return idx, true
}

// Offset maps a RawInput index to its destuffed offset. Stuff bits have none.
func (f *Frame) Offset(raw int) (int, bool) {
	if f == nil || raw < 0 || raw >= len(f.fields) {
		return 0, false
	}
	a := f.fields[raw]
	if a.stuff {
		return 0, false
	}
	return a.offset, true
}
