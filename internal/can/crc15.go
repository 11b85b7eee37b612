package can

// crc15Poly is the CAN generator x^15+x^14+x^10+x^8+x^7+x^4+x^3+1 without
// its implicit x^15 term.
const (
	crc15Poly = 0x4599
	crc15Mask = 0x7FFF
)

// CRC15 is the bit-serial CAN CRC register, seeded at zero.
type CRC15 struct {
	reg uint16
}

// Add shifts one bit through the register.
func (c *CRC15) Add(b Bit) {
	nxt := uint16(b&1) ^ (c.reg>>14)&1
	c.reg = (c.reg << 1) & crc15Mask
	if nxt != 0 {
		c.reg ^= crc15Poly
	}
}

// Sum returns the current 15-bit register value.
func (c *CRC15) Sum() uint16 { return c.reg }

// Checksum15 runs the CAN CRC over bits.
func Checksum15(bits []Bit) uint16 {
	var c CRC15
	for _, b := range bits {
		c.Add(b)
	}
	return c.Sum()
}
