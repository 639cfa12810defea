package vault

import (
	"math"
	"math/bits"

	"github.com/xtrntr/parimutuel/internal/models"
)

// mulDiv returns a*b/c truncated toward zero. a, b and c must be non-negative
// and c positive; the product is carried in 128 bits.
func mulDiv(a, b, c int64) (int64, error) {
	if a < 0 || b < 0 || c <= 0 {
		return 0, models.ErrInvalidAmount
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, models.ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return 0, models.ErrOverflow
	}
	return int64(q), nil
}

func addChecked(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, models.ErrOverflow
	}
	return a + b, nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// matchUnits returns the smallest stakes that balance each other at odds:
// own units on side match peer units on the opposite side, and
// own*odds(side) == peer*odds(opposite) holds exactly.
func matchUnits(odds models.Odds, side models.Side) (own, peer int64) {
	o, p := odds.For(side), odds.For(side.Opposite())
	g := gcd(o, p)
	return p / g, o / g
}
