package model

import (
	"github.com/holiman/uint256"
)

// Work is a 256-bit quantity used for both PoW targets and cumulative chain
// work (GLOSSARY: "sum over the chain of 2^256 / (target+1) per block").
type Work struct {
	v uint256.Int
}

// WorkFromUint256 wraps a *uint256.Int as a Work value.
func WorkFromUint256(v *uint256.Int) Work {
	var w Work
	w.v.Set(v)
	return w
}

// Add returns w+other without mutating either operand.
func (w Work) Add(other Work) Work {
	var out Work
	out.v.AddOverflow(&w.v, &other.v)
	return out
}

// Cmp compares two Work values the way uint256.Int.Cmp does: -1, 0, 1.
func (w Work) Cmp(other Work) int {
	return w.v.Cmp(&other.v)
}

// IsZero reports whether the work value is zero (used to detect an
// unpopulated header-work cache entry).
func (w Work) IsZero() bool {
	return w.v.IsZero()
}

// Bytes32 serializes w as a 32-byte big-endian array, for persistence
// alongside a block's height in a storage column.
func (w Work) Bytes32() [32]byte {
	return w.v.Bytes32()
}

// WorkFromBytes32 is the inverse of Bytes32.
func WorkFromBytes32(b [32]byte) Work {
	var w Work
	w.v.SetBytes32(b[:])
	return w
}

// compactToTarget expands a "bits" compact representation into a target
// Work value, and blockWork derives the per-block work contribution from
// that target: 2^256 / (target+1), floor-divided, matching the GLOSSARY
// definition of cumulative work exactly.
func compactToTarget(bits uint32) Work {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	var target uint256.Int
	target.SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(&target, uint(8*(3-exponent)))
	} else {
		target.Lsh(&target, uint(8*(exponent-3)))
	}
	return Work{v: target}
}

// HashMeetsTarget reports whether hash, interpreted as a big-endian 256-bit
// integer, is less than or equal to the target encoded by bits — the
// proof-of-work validity check of §4.1.
func HashMeetsTarget(hash Hash, bits uint32) bool {
	target := compactToTarget(bits)
	var hashInt uint256.Int
	reversed := make([]byte, len(hash))
	for i, b := range hash {
		reversed[len(hash)-1-i] = b
	}
	hashInt.SetBytes(reversed)
	return hashInt.Cmp(&target.v) <= 0
}

// BlockWork computes the proof-of-work contribution of a single header,
// 2^256 / (target+1), the quantity accumulated along the best chain.
func BlockWork(bits uint32) Work {
	target := compactToTarget(bits)
	if target.v.IsZero() {
		return Work{}
	}
	one := uint256.NewInt(1)
	denom := new(uint256.Int).Add(&target.v, one)

	// 2^256 does not fit in uint256.Int, so start from (2^256-1) / denom.
	// That floor is one short of 2^256 / denom exactly when denom divides
	// 2^256, i.e. when (2^256-1) mod denom == denom-1; add 1 only then.
	maxU256 := new(uint256.Int).Not(uint256.NewInt(0)) // 2^256 - 1
	quotient := new(uint256.Int).Div(maxU256, denom)
	remainder := new(uint256.Int).Mod(maxU256, denom)
	if remainder.Cmp(new(uint256.Int).Sub(denom, one)) == 0 {
		quotient.AddOverflow(quotient, one)
	}
	return Work{v: *quotient}
}
