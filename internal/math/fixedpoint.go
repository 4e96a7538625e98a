// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Decimals of the underlying asset and the share token.
const Decimals = 18

var (
	ErrDivisionByZero = errors.New("math: division by zero")
	ErrOverflow       = errors.New("math: overflow")
	ErrUnderflow      = errors.New("math: underflow")
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // toward zero (floor for unsigned values)
	RoundUp                       // away from zero (ceil)
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return fmt.Sprintf("RoundingMode(%d)", int(m))
	}
}

// MulDiv computes x * y / denominator with a 512-bit intermediate product.
// The quotient must fit in 256 bits.
func MulDiv(x, y, denominator *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	result, overflow := new(uint256.Int).MulDivOverflow(x, y, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	if mode == RoundUp {
		rem := new(uint256.Int).MulMod(x, y, denominator)
		if !rem.IsZero() {
			if result.Eq(maxUint256) {
				return nil, ErrOverflow
			}
			result.AddUint64(result, 1)
		}
	}
	return result, nil
}

var maxUint256 = new(uint256.Int).SetAllOne()

// Add returns a + b, failing on 256-bit overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b, failing when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// ParseAmount parses a base-10 integer amount. Hex input is refused so wire
// payloads have a single canonical encoding.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("math: empty amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("math: invalid amount %q: %w", s, err)
	}
	return v, nil
}

// Units returns whole * 10^Decimals. Test fixtures and config use it.
func Units(whole uint64) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
	return new(uint256.Int).Mul(uint256.NewInt(whole), scale)
}

// Clone copies v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
