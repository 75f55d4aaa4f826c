// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fixmath

import "github.com/holiman/uint256"

// Rational-approximation constants for ExpWad/LnWad. The exp
// approximation is a (6,7)-term rational in base-2 Q96; ln is an
// (8,8)-term rational. The magic numbers are the canonical ones from
// the solmate fixed-point library and must not be altered: the curves
// depend on bit-exact results across chains.
var (
	expInMin  = sconst("-42139678854452767551")
	expInMax  = sconst("135305999368893231589")
	expBase   = sconst("3814697265625") // 5**18 / 2**78 conversion divisor
	ln2Q96    = sconst("54916777467707473351141471128")
	expRound  = sconst("39614081257132168796771975168") // 2**95
	expScale  = uint256.MustFromDecimal("3822833074963236453042738258902158003155416615667")
	exp195    = uint256.NewInt(195)

	expP0 = sconst("1346386616545796478920950773328")
	expP1 = sconst("57155421227552351082224309758442")
	expP2 = sconst("94201549194550492254356042504812")
	expP3 = sconst("28719021644029726153956944680412240")
	expP4 = new(uint256.Int).Lsh(sconst("4385272521454847904659076985693276"), 96)

	expQ0 = sconst("2855989394907223263936484059900")
	expQ1 = sconst("50020603652535783019961831881945")
	expQ2 = sconst("533845033583426703283633433725380")
	expQ3 = sconst("3604857256930695427073651918091429")
	expQ4 = sconst("14423608567350463180887372962807573")
	expQ5 = sconst("26449188498355588339934803723976023")

	lnP0 = sconst("3273285459638523848632254066296")
	lnP1 = sconst("24828157081833163892658089445524")
	lnP2 = sconst("43456485725739037958740375743393")
	lnP3 = sconst("11111509109440967052023855526967")
	lnP4 = sconst("45023709667254063763336534515857")
	lnP5 = sconst("14706773417378608786704636184526")
	lnP6 = new(uint256.Int).Lsh(sconst("795164235651350426258249787498"), 96)

	lnQ0 = sconst("5573035233440673466300451813936")
	lnQ1 = sconst("71694874799317883764090561454958")
	lnQ2 = sconst("283447036172924575727196451306956")
	lnQ3 = sconst("401686690394027663651624208769553")
	lnQ4 = sconst("204048457590392012362485061816622")
	lnQ5 = sconst("31853899698501571402653359427138")
	lnQ6 = sconst("909429971244387300277376558375")

	lnScale = sconst("1677202110996718588342820967067443963516166")
	lnK     = sconst("16597577552685614221487285958193947469193820559219878177908093499208371")
	lnOff   = sconst("600920179829731861736702779321621459595472258049074101567377883020018308")
)

// ExpWad returns e^x for signed WAD x. Results below 0.5e-18 collapse
// to zero; inputs at or above ~135.3 WAD overflow the signed range.
func ExpWad(x *uint256.Int) (*uint256.Int, error) {
	if !expInMin.Slt(x) { // x <= -42.139... e18
		return new(uint256.Int), nil
	}
	if !x.Slt(expInMax) { // x >= 135.305... e18
		return nil, ErrExpOverflow
	}

	// Convert from WAD to Q96 for intermediate precision.
	z := new(uint256.Int).Lsh(x, 78)
	z.SDiv(z, expBase)

	// Range-reduce to (-0.5 ln2, 0.5 ln2)*2**96: exp(z) = exp(z')*2**k.
	k := new(uint256.Int).Lsh(z, 96)
	k.SDiv(k, ln2Q96)
	k.Add(k, expRound)
	k.SRsh(k, 96)
	z.Sub(z, new(uint256.Int).Mul(k, ln2Q96))

	// (6,7)-term rational approximation; p is monic.
	y := new(uint256.Int).Add(z, expP0)
	y.Mul(y, z)
	y.SRsh(y, 96)
	y.Add(y, expP1)
	p := new(uint256.Int).Add(y, z)
	p.Sub(p, expP2)
	p.Mul(p, y)
	p.SRsh(p, 96)
	p.Add(p, expP3)
	p.Mul(p, z)
	p.Add(p, expP4)

	q := new(uint256.Int).Sub(z, expQ0)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, expQ1)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Sub(q, expQ2)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, expQ3)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Sub(q, expQ4)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, expQ5)

	r := new(uint256.Int).SDiv(p, q)

	// Scale by s*2**k*1e18/2**96 in one 2**213-basis step. k is in
	// [-61, 195], so the shift amount 195-k is in [0, 256].
	r.Mul(r, expScale)
	shift := new(uint256.Int).Sub(exp195, k)
	return r.Rsh(r, uint(shift.Uint64())), nil
}

// LnWad returns ln(x) for positive WAD x as a signed WAD value.
func LnWad(x *uint256.Int) (*uint256.Int, error) {
	if x.Sign() <= 0 {
		return nil, ErrLnDomain
	}

	// Range-reduce to (1, 2)*2**96: ln(2^k x) = k ln2 + ln(x).
	lg, err := Log2(x)
	if err != nil {
		return nil, err
	}
	k := int(lg) - 96
	z := new(uint256.Int).Lsh(x, uint(159-k))
	z.Rsh(z, 159)

	// (8,8)-term rational approximation; p is monic.
	p := new(uint256.Int).Add(z, lnP0)
	p.Mul(p, z)
	p.SRsh(p, 96)
	p.Add(p, lnP1)
	p.Mul(p, z)
	p.SRsh(p, 96)
	p.Add(p, lnP2)
	p.Mul(p, z)
	p.SRsh(p, 96)
	p.Sub(p, lnP3)
	p.Mul(p, z)
	p.SRsh(p, 96)
	p.Sub(p, lnP4)
	p.Mul(p, z)
	p.SRsh(p, 96)
	p.Sub(p, lnP5)
	p.Mul(p, z)
	p.Sub(p, lnP6)

	q := new(uint256.Int).Add(z, lnQ0)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, lnQ1)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, lnQ2)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, lnQ3)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, lnQ4)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, lnQ5)
	q.Mul(q, z)
	q.SRsh(q, 96)
	q.Add(q, lnQ6)

	r := new(uint256.Int).SDiv(p, q)

	// Finalize: scale, add k*ln2 and ln(2**96/10**18), convert base.
	r.Mul(r, lnScale)
	kTerm := new(uint256.Int)
	if k >= 0 {
		kTerm.Mul(lnK, uint256.NewInt(uint64(k)))
	} else {
		kTerm.Mul(lnK, uint256.NewInt(uint64(-k)))
		kTerm.Neg(kTerm)
	}
	r.Add(r, kTerm)
	r.Add(r, lnOff)
	return r.SRsh(r, 174), nil
}

// PowWad returns x^y for positive WAD x and signed WAD y, computed as
// exp(ln(x)*y).
func PowWad(x, y *uint256.Int) (*uint256.Int, error) {
	lx, err := LnWad(x)
	if err != nil {
		return nil, err
	}
	e, err := smulChecked(lx, y)
	if err != nil {
		return nil, err
	}
	e.SDiv(e, WAD)
	return ExpWad(e)
}

// smulChecked multiplies two signed values, erroring on overflow of
// the signed 256-bit range.
func smulChecked(x, y *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() || y.IsZero() {
		return new(uint256.Int), nil
	}
	z := new(uint256.Int).Mul(x, y)
	check := new(uint256.Int).SDiv(z, x)
	if !check.Eq(y) {
		return nil, ErrOverflow
	}
	return z, nil
}
