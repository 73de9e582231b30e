// Package weimath provides overflow-checked arithmetic on unsigned wei
// amounts for the settlement engine.
//
// The dominant numeric-correctness requirement is the bonus computation
// floor(effective · pool / effective): the multiply must happen before the
// divide, over an intermediate wide enough to hold the full product.
// uint256.MulDivOverflow carries the product through 512 bits internally
// and reports when the narrowed result no longer fits, so the engine can
// fail closed instead of silently truncating.
//
// All division is floor division. The engine must never round up.
package weimath

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/model"
)

// MulDiv returns floor(x·y/d), failing with ErrArithmeticOverflow when the
// result exceeds 256 bits and with a division-by-zero error when d is zero.
// Callers that can legitimately see an empty denominator must guard it
// themselves (the claim path substitutes 1 for an empty winning pool).
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", model.ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", model.ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// Add returns x+y, failing with ErrArithmeticOverflow on wraparound.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", model.ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// MulUint64 returns x·y for a small scalar multiplier (leverage), failing
// with ErrArithmeticOverflow on wraparound.
func MulUint64(x *uint256.Int, y uint64) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, uint256.NewInt(y))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %d", model.ErrArithmeticOverflow, x.Dec(), y)
	}
	return z, nil
}

// Parse converts a decimal wei string into an amount. Rejects empty
// strings, signs, and anything beyond 256 bits.
func Parse(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidAmount, s)
	}
	return z, nil
}
