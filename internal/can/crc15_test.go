package can

import (
	"math/rand"
	"testing"
)

// polyMod15 divides bits·x^15 by the CAN generator (0xC599 with its x^15
// term) using plain long division.
func polyMod15(bits []Bit) uint16 {
	work := append(append([]Bit(nil), bits...), make([]Bit, 15)...)
	gen := appendBits(nil, 0xC599, 16)
	for i := 0; i+16 <= len(work); i++ {
		if work[i] == 0 {
			continue
		}
		for j := range gen {
			work[i+j] ^= gen[j]
		}
	}
	var rem uint16
	for _, b := range work[len(work)-15:] {
		rem = rem<<1 | uint16(b)
	}
	return rem
}

func TestCRC15_SmallVectors(t *testing.T) {
	if got := Checksum15(nil); got != 0 {
		t.Fatalf("empty=0x%X want 0", got)
	}
	if got := Checksum15([]Bit{1}); got != 0x4599 {
		t.Fatalf("[1]=0x%X want 0x4599", got)
	}
	if got := Checksum15([]Bit{1, 0}); got != 0x4EAB {
		t.Fatalf("[1 0]=0x%X want 0x4EAB", got)
	}
	// Leading zeros do not move a zero-seeded register.
	if got := Checksum15([]Bit{0, 0, 0, 1}); got != 0x4599 {
		t.Fatalf("[0 0 0 1]=0x%X want 0x4599", got)
	}
}

func TestCRC15_MatchesLongDivision(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 1; n <= 18+64; n += 3 {
		bits := make([]Bit, n)
		for i := range bits {
			bits[i] = Bit(rng.Intn(2))
		}
		if got, want := Checksum15(bits), polyMod15(bits); got != want {
			t.Fatalf("n=%d: crc=0x%X want 0x%X", n, got, want)
		}
	}
}

func TestCRC15_StaysWithin15Bits(t *testing.T) {
	var c CRC15
	for i := 0; i < 1000; i++ {
		c.Add(Bit(i % 3 & 1))
		if c.Sum() > crc15Mask {
			t.Fatalf("register overflow: 0x%X", c.Sum())
		}
	}
}
