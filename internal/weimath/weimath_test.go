package weimath

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/oddspool/settle-engine/internal/model"
)

// u is a test helper for small amounts.
func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestMulDiv_Floors(t *testing.T) {
	tests := []struct {
		x, y, d uint64
		want    uint64
	}{
		{500, 100, 500, 100},
		{7, 3, 2, 10},   // 21/2 floors to 10
		{1, 1, 3, 0},    // 1/3 floors to 0
		{10, 10, 7, 14}, // 100/7 floors to 14
	}
	for _, tt := range tests {
		got, err := MulDiv(u(tt.x), u(tt.y), u(tt.d))
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d): unexpected error %v", tt.x, tt.y, tt.d, err)
		}
		if !got.Eq(u(tt.want)) {
			t.Errorf("MulDiv(%d,%d,%d) = %s, want %d", tt.x, tt.y, tt.d, got.Dec(), tt.want)
		}
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// x·y overflows 256 bits but the quotient fits: must still succeed.
	max := new(uint256.Int).SetAllOne()
	got, err := MulDiv(max, u(1000), u(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(max) {
		t.Errorf("expected max uint256 back, got %s", got.Dec())
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := MulDiv(max, u(2), u(1))
	if !errors.Is(err, model.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	_, err := MulDiv(u(1), u(1), u(0))
	if !errors.Is(err, model.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow for zero denominator, got %v", err)
	}
}

func TestAdd_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, u(1)); !errors.Is(err, model.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
	got, err := Add(u(2), u(3))
	if err != nil || !got.Eq(u(5)) {
		t.Errorf("Add(2,3) = %v, %v", got, err)
	}
}

func TestMulUint64_Leverage(t *testing.T) {
	got, err := MulUint64(u(100), 5)
	if err != nil || !got.Eq(u(500)) {
		t.Errorf("MulUint64(100,5) = %v, %v", got, err)
	}

	max := new(uint256.Int).SetAllOne()
	if _, err := MulUint64(max, 10); !errors.Is(err, model.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("1000000000000000000") // 1 ether
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(uint256.NewInt(1_000_000_000_000_000_000)) {
		t.Errorf("unexpected value %s", got.Dec())
	}

	for _, bad := range []string{"", "-5", "1.5", "abc"} {
		if _, err := Parse(bad); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("Parse(%q): expected ErrInvalidAmount, got %v", bad, err)
		}
	}
}
