// Package felt implements arithmetic over the Goldilocks prime field used
// by the VM, p = 2^64 - 2^32 + 1.
package felt

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Modulus is the field characteristic.
const Modulus uint64 = 0xFFFFFFFF00000001

// Felt is a field element in canonical form (always less than Modulus).
type Felt uint64

// Zero and One are the additive and multiplicative identities.
const (
	Zero Felt = 0
	One  Felt = 1
)

// New reduces v into the field.
func New(v uint64) Felt {
	if v >= Modulus {
		v -= Modulus
	}
	return Felt(v)
}

// FromInt64 maps a signed integer into the field, negative values wrap
// around the modulus.
func FromInt64(v int64) Felt {
	if v < 0 {
		return New(uint64(-v)).Neg()
	}
	return New(uint64(v))
}

// Uint64 returns the canonical integer representation of f.
func (f Felt) Uint64() uint64 {
	return uint64(f)
}

// Add returns f + g mod p.
func (f Felt) Add(g Felt) Felt {
	s, c := bits.Add64(uint64(f), uint64(g), 0)
	if c != 0 || s >= Modulus {
		s -= Modulus
	}
	return Felt(s)
}

// Sub returns f - g mod p.
func (f Felt) Sub(g Felt) Felt {
	d, b := bits.Sub64(uint64(f), uint64(g), 0)
	if b != 0 {
		d += Modulus
	}
	return Felt(d)
}

// Mul returns f * g mod p.
func (f Felt) Mul(g Felt) Felt {
	hi, lo := bits.Mul64(uint64(f), uint64(g))
	_, r := bits.Div64(hi, lo, Modulus)
	return Felt(r)
}

// Neg returns -f mod p.
func (f Felt) Neg() Felt {
	if f == 0 {
		return 0
	}
	return Felt(Modulus - uint64(f))
}

// Exp returns f^e mod p.
func (f Felt) Exp(e uint64) Felt {
	r := One
	b := f
	for e > 0 {
		if e&1 == 1 {
			r = r.Mul(b)
		}
		b = b.Mul(b)
		e >>= 1
	}
	return r
}

// Inv returns the multiplicative inverse of f. The second return value is
// false when f is zero.
func (f Felt) Inv() (Felt, bool) {
	if f == 0 {
		return 0, false
	}
	return f.Exp(Modulus - 2), true
}

// IsBinary reports whether f is 0 or 1.
func (f Felt) IsBinary() bool {
	return f == 0 || f == 1
}

// IsU32 reports whether f fits in 32 bits.
func (f Felt) IsU32() bool {
	return uint64(f) <= 0xFFFFFFFF
}

// Lo32 returns the low 32 bits of the canonical representation.
func (f Felt) Lo32() uint32 {
	return uint32(uint64(f))
}

func (f Felt) String() string {
	return strconv.FormatUint(uint64(f), 10)
}

// Parse parses a decimal or 0x-prefixed hexadecimal field element. Values
// that are not less than the modulus are rejected.
func Parse(s string) (Felt, error) {
	s = strings.TrimSpace(s)
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	} else if strings.HasPrefix(s, "0b") {
		base = 2
		digits = s[2:]
	}
	digits = strings.ReplaceAll(digits, "_", "")
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid field element %q: %v", s, err)
	}
	if v >= Modulus {
		return 0, fmt.Errorf("invalid field element %q: value is not less than the field modulus", s)
	}
	return Felt(v), nil
}

// Word is a group of four field elements, the unit of word-sized memory
// accesses.
type Word [4]Felt

// Reverse returns w with its elements in reverse order.
func (w Word) Reverse() Word {
	return Word{w[3], w[2], w[1], w[0]}
}

// IsZero reports whether every element of w is zero.
func (w Word) IsZero() bool {
	return w == Word{}
}

func (w Word) String() string {
	return fmt.Sprintf("[%d, %d, %d, %d]", w[0], w[1], w[2], w[3])
}
