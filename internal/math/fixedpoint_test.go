package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	fpmath "StableLedger/internal/math"
)

func TestNativeToUsd(t *testing.T) {
	tests := []struct {
		name   string
		native int64
		price  int64
		want   int64
	}{
		{"one SOL at $100", 1_000_000_000, 100_00000000, 100_000_000},
		{"quarter SOL at $100", 250_000_000, 100_00000000, 25_000_000},
		{"dust rounds down", 1, 100_00000000, 0},
		{"fractional price", 1_000_000_000, 123_45678901, 123_456_789},
		{"zero", 0, 100_00000000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.NativeToUsd(tt.native, tt.price)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUsdToNative(t *testing.T) {
	got, err := fpmath.UsdToNative(25_000_000, 100_00000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 250_000_000 {
		t.Errorf("got %d, want 250_000_000", got)
	}

	// $1 at $3 per SOL = 0.333333333 SOL (rounded down)
	got, err = fpmath.UsdToNative(1_000_000, 3_00000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 333_333_333 {
		t.Errorf("got %d, want 333_333_333", got)
	}
}

func TestUsdToNative_ZeroPrice(t *testing.T) {
	_, err := fpmath.UsdToNative(1_000_000, 0)
	if !errors.Is(err, fpmath.ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	_, err := fpmath.MulDiv([]int64{stdmath.MaxInt64, 2}, []int64{1}, fpmath.RoundDown)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}

	// Intermediate overflow is fine as long as the result fits.
	got, err := fpmath.MulDiv([]int64{stdmath.MaxInt64, 4}, []int64{4}, fpmath.RoundDown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stdmath.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", got)
	}
}

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		name string
		num  int64
		den  int64
		mode fpmath.RoundingMode
		want int64
	}{
		{"down 7/2", 7, 2, fpmath.RoundDown, 3},
		{"up 7/2", 7, 2, fpmath.RoundUp, 4},
		{"up exact", 8, 2, fpmath.RoundUp, 4},
		{"half-even 5/2 -> 2", 5, 2, fpmath.RoundHalfEven, 2},
		{"half-even 7/2 -> 4", 7, 2, fpmath.RoundHalfEven, 4},
		{"half-even 7/3 -> 2", 7, 3, fpmath.RoundHalfEven, 2},
		{"half-even 8/3 -> 3", 8, 3, fpmath.RoundHalfEven, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv([]int64{tt.num}, []int64{tt.den}, tt.mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyBps(t *testing.T) {
	got, err := fpmath.ApplyBps(250_000_000, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 250_000 {
		t.Errorf("got %d, want 250_000", got)
	}
}

func TestCompareProducts(t *testing.T) {
	if c := fpmath.CompareProducts(stdmath.MaxInt64, 2, stdmath.MaxInt64, 3); c != -1 {
		t.Errorf("expected -1, got %d", c)
	}
	if c := fpmath.CompareProducts(6, 5, 10, 3); c != 0 {
		t.Errorf("expected 0, got %d", c)
	}
	if c := fpmath.CompareRatios(3, 2, 4, 3); c != 1 {
		t.Errorf("expected 1 (3/2 > 4/3), got %d", c)
	}
}
