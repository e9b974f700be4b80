package wire

import (
	"math"
	"testing"
	"testing/quick"

	"github.com/betbot/goperp/perp/types"
)

func TestBufferedPriceLargeCapBuy(t *testing.T) {
	tiers := DefaultTiers()
	got := tiers.BufferedPrice(50000, types.SideBuy, false)
	if got != 50025 {
		t.Fatalf("buffered buy at 50000 = %v, want 50025", got)
	}
}

func TestBufferedPriceSellSubtracts(t *testing.T) {
	tiers := DefaultTiers()
	got := tiers.BufferedPrice(50000, types.SideSell, false)
	if got != 49975 {
		t.Fatalf("buffered sell at 50000 = %v, want 49975", got)
	}
}

func TestBufferedPriceSecondaryFixedRate(t *testing.T) {
	tiers := DefaultTiers()
	got := tiers.BufferedPrice(100, types.SideBuy, true)
	if got != 100.01 {
		t.Fatalf("secondary buffered buy at 100 = %v, want 100.01", got)
	}
}

func TestBufferRateWidensForSmallPrices(t *testing.T) {
	tiers := DefaultTiers()
	cases := []struct {
		px   float64
		want float64
	}{
		{50000, 0.0005},
		{2000, 0.001},
		{50, 0.0025},
		{0.5, 0.005},
	}
	for _, c := range cases {
		if got := tiers.BufferRate(c.px, false); got != c.want {
			t.Fatalf("BufferRate(%v) = %v, want %v", c.px, got, c.want)
		}
	}
}

func TestRoundPrice(t *testing.T) {
	tiers := DefaultTiers()
	cases := []struct {
		px   float64
		want float64
	}{
		{50025.4, 50025},
		{50025.6, 50026},
		{123.456, 123.46},
		{0.12345, 0.1235},
	}
	for _, c := range cases {
		if got := tiers.RoundPrice(c.px); got != c.want {
			t.Fatalf("RoundPrice(%v) = %v, want %v", c.px, got, c.want)
		}
	}
}

func TestTruncateSizeRoundsDown(t *testing.T) {
	cases := []struct {
		sz   float64
		dec  int
		want float64
	}{
		{0.123456, 3, 0.123},
		{0.1239, 3, 0.123},
		{1.999, 0, 1},
		{0.5, 4, 0.5},
	}
	for _, c := range cases {
		if got := TruncateSize(c.sz, c.dec); got != c.want {
			t.Fatalf("TruncateSize(%v, %d) = %v, want %v", c.sz, c.dec, got, c.want)
		}
	}
}

// Truncation must never produce a larger size than it was given.
func TestTruncateSizeNeverRoundsUp(t *testing.T) {
	f := func(sz float64, dec uint8) bool {
		sz = math.Abs(sz)
		if math.IsInf(sz, 0) || math.IsNaN(sz) || sz > 1e15 {
			return true
		}
		got := TruncateSize(sz, int(dec%8))
		return got <= sz
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestFloatToWire(t *testing.T) {
	cases := []struct {
		f    float64
		want string
	}{
		{50025, "50025"},
		{0.123, "0.123"},
		{1.5, "1.5"},
		{100.01, "100.01"},
	}
	for _, c := range cases {
		if got := FloatToWire(c.f); got != c.want {
			t.Fatalf("FloatToWire(%v) = %q, want %q", c.f, got, c.want)
		}
	}
}
