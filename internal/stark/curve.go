// Package stark implements the subset of the STARK-friendly elliptic curve needed to
// derive exchange session keys and sign exchange payloads.
//
// The curve is y^2 = x^3 + alpha*x + beta over the field of size P.
package stark

import (
	"math/big"
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("stark: bad constant " + s)
	}
	return v
}

var (
	// P is the field prime 2^251 + 17*2^192 + 1.
	P = mustHex("800000000000011000000000000000000000000000000000000000000000001")
	// N is the order of the generator.
	N = mustHex("800000000000010ffffffffffffffffb781126dcae7b2321e66a241adc64d2f")

	alpha = big.NewInt(1)
	beta  = mustHex("6f21413efbe40de150e596d72f7a8c5609ad26c15c915c1f4cdfcb99cee9e89")

	// G is the curve generator.
	G = Point{
		X: mustHex("1ef15c18599971b7beced415a40f0c7deacfd9b0d1819e03d723d8bc943cfca"),
		Y: mustHex("5668060aa49730b7be4801df46ec62de53ecd11abe43a32873000c36e8dc1f"),
	}

	// maxElement bounds r, w and message hashes in signatures (2^251).
	maxElement = new(big.Int).Lsh(big.NewInt(1), 251)
)

// Point is an affine curve point. The zero value (nil coordinates) is the point at infinity.
type Point struct {
	X, Y *big.Int
}

func (p Point) IsInfinity() bool {
	return p.X == nil || p.Y == nil
}

// OnCurve reports whether p satisfies the curve equation.
func (p Point) OnCurve() bool {
	if p.IsInfinity() {
		return true
	}
	lhs := new(big.Int).Mul(p.Y, p.Y)
	lhs.Mod(lhs, P)

	rhs := new(big.Int).Exp(p.X, big.NewInt(3), P)
	ax := new(big.Int).Mul(alpha, p.X)
	rhs.Add(rhs, ax)
	rhs.Add(rhs, beta)
	rhs.Mod(rhs, P)
	return lhs.Cmp(rhs) == 0
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	if p.IsInfinity() {
		return q
	}
	if q.IsInfinity() {
		return p
	}

	var slope *big.Int
	if p.X.Cmp(q.X) == 0 {
		sum := new(big.Int).Add(p.Y, q.Y)
		if sum.Mod(sum, P).Sign() == 0 {
			return Point{}
		}
		// (3x^2 + alpha) / 2y
		num := new(big.Int).Mul(p.X, p.X)
		num.Mul(num, big.NewInt(3))
		num.Add(num, alpha)
		den := new(big.Int).Lsh(p.Y, 1)
		slope = divMod(num, den, P)
	} else {
		num := new(big.Int).Sub(q.Y, p.Y)
		den := new(big.Int).Sub(q.X, p.X)
		slope = divMod(num, den, P)
	}

	x := new(big.Int).Mul(slope, slope)
	x.Sub(x, p.X)
	x.Sub(x, q.X)
	x.Mod(x, P)

	y := new(big.Int).Sub(p.X, x)
	y.Mul(y, slope)
	y.Sub(y, p.Y)
	y.Mod(y, P)

	return Point{X: x, Y: y}
}

// Neg returns -p.
func (p Point) Neg() Point {
	if p.IsInfinity() {
		return p
	}
	y := new(big.Int).Neg(p.Y)
	y.Mod(y, P)
	return Point{X: new(big.Int).Set(p.X), Y: y}
}

// Mul returns k*p using double-and-add.
func (p Point) Mul(k *big.Int) Point {
	result := Point{}
	addend := p
	scalar := new(big.Int).Set(k)
	for scalar.Sign() > 0 {
		if scalar.Bit(0) == 1 {
			result = result.Add(addend)
		}
		addend = addend.Add(addend)
		scalar.Rsh(scalar, 1)
	}
	return result
}

// divMod returns num/den modulo m.
func divMod(num, den, m *big.Int) *big.Int {
	d := new(big.Int).Mod(den, m)
	inv := new(big.Int).ModInverse(d, m)
	out := new(big.Int).Mul(num, inv)
	return out.Mod(out, m)
}
