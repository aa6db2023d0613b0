package types

import (
	"fmt"
	"math/big"
)

// U128 is an unsigned 128-bit integer in its little-endian Borsh form.
type U128 [16]byte

// NewU128 converts v, which must fit in 128 unsigned bits. A nil v is zero.
func NewU128(v *big.Int) (U128, error) {
	var out U128
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return out, fmt.Errorf("value %s does not fit in u128", v)
	}
	var be [16]byte
	v.FillBytes(be[:])
	for i := range be {
		out[i] = be[15-i]
	}
	return out, nil
}

// Big returns the value as a big.Int.
func (u U128) Big() *big.Int {
	var be [16]byte
	for i := range u {
		be[i] = u[15-i]
	}
	return new(big.Int).SetBytes(be[:])
}
