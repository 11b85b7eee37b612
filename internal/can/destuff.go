package can

// stuffRun is the number of identical bits after which a transmitter inserts
// a complementary stuff bit.
const stuffRun = 5

// destuffer tracks the run of identical bits on the wire. A stuff bit takes
// part in the run that follows it.
type destuffer struct {
	run  int
	last Bit
}

// next feeds one raw bit. It reports whether the bit is a stuff bit to be
// discarded, and whether it extends a run past the stuffing limit.
func (d *destuffer) next(b Bit) (stuff, violation bool) {
	if d.run > 0 && b == d.last {
		d.run++
		return false, d.run > stuffRun
	}
	stuff = d.run == stuffRun
	d.run = 1
	d.last = b
	return stuff, false
}

// stuffBits inserts stuff bits into a destuffed stream, through offset
// lastStuffed inclusive. It mirrors what destuffer accepts: a run that ends
// on the last stuffed offset is not followed by a stuff bit.
func stuffBits(bits []Bit, lastStuffed int) []Bit {
	out := make([]Bit, 0, len(bits)+len(bits)/stuffRun)
	run := 0
	var last Bit
	for i, b := range bits {
		if run > 0 && b == last {
			run++
		} else {
			run = 1
			last = b
		}
		out = append(out, b)
		if run == stuffRun && i < lastStuffed {
			s := last ^ 1
			out = append(out, s)
			run = 1
			last = s
		}
	}
	return out
}
