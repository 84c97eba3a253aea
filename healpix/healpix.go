/*
Copyright © 2024 the BatAnalysis authors.
This file is part of BatAnalysis.

BatAnalysis is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

BatAnalysis is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with BatAnalysis.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package healpix implements the RING-ordered HEALPix equal-area
// spherical pixelization (Górski et al. 2005), as far as is needed to
// project BAT sky images onto all-sky maps: pixel counting and the
// mapping between pixel indices and spherical coordinates.
package healpix

import (
	"fmt"
	"math"
)

// MaxNSide is the largest supported resolution parameter.
const MaxNSide = 1 << 29

// CheckNSide returns an error unless nside is a power of two within the
// supported range.
func CheckNSide(nside int) error {
	if nside < 1 || nside > MaxNSide || nside&(nside-1) != 0 {
		return fmt.Errorf("healpix: nside must be a power of 2 between 1 and %d, got %d", MaxNSide, nside)
	}
	return nil
}

// Npix returns the number of pixels in a map of the given resolution.
func Npix(nside int) int { return 12 * nside * nside }

// ncap is the number of pixels in the north polar cap.
func ncap(nside int) int { return 2 * nside * (nside - 1) }

// AngToPix returns the RING-ordered index of the pixel containing the
// direction (theta, phi), where theta is the colatitude [0, π] and phi
// the longitude [rad].
func AngToPix(nside int, theta, phi float64) int {
	z := math.Cos(theta)
	za := math.Abs(z)
	tt := math.Mod(phi/(math.Pi/2), 4)
	if tt < 0 {
		tt += 4
	}
	n := nside

	if za <= 2.0/3.0 { // equatorial region
		temp1 := float64(n) * (0.5 + tt)
		temp2 := float64(n) * z * 0.75
		jp := int(temp1 - temp2) // ascending edge line index
		jm := int(temp1 + temp2) // descending edge line index

		ir := n + 1 + jp - jm // ring number counted from z=2/3
		kshift := 1 - ir&1    // 1 for even rings

		ip := (jp + jm - n + kshift + 1) / 2
		ip = ip % (4 * n)
		if ip < 0 {
			ip += 4 * n
		}
		return ncap(n) + (ir-1)*4*n + ip
	}

	// polar caps
	tp := tt - math.Floor(tt)
	tmp := float64(n) * math.Sqrt(3*(1-za))
	jp := int(tp * tmp)
	jm := int((1 - tp) * tmp)

	ir := jp + jm + 1 // ring number counted from the closest pole
	ip := int(tt*float64(ir)) % (4 * ir)
	if ip < 0 {
		ip += 4 * ir
	}
	if z > 0 {
		return 2*ir*(ir-1) + ip
	}
	return Npix(n) - 2*ir*(ir+1) + ip
}

// PixToAng returns the colatitude theta [0, π] and longitude phi [rad]
// of the center of the RING-ordered pixel.
func PixToAng(nside, pix int) (theta, phi float64) {
	n := nside
	npix := Npix(n)
	nc := ncap(n)
	fact2 := 4.0 / float64(npix)

	if pix < nc { // north polar cap
		iring := (1 + isqrt(1+2*pix)) / 2 // ring counted from the north pole
		iphi := pix + 1 - 2*iring*(iring-1)
		z := 1 - float64(iring*iring)*fact2
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
		return math.Acos(z), phi
	}

	if pix < npix-nc { // equatorial region
		ip := pix - nc
		iring := ip/(4*n) + n
		iphi := ip%(4*n) + 1
		// fodd is 1.0 on rings where the pixel centers are unshifted
		// and 0.5 where they are shifted by half a pixel.
		fodd := 0.5
		if (iring+n)&1 == 1 {
			fodd = 1.0
		}
		z := (2*float64(n) - float64(iring)) * float64(n) * fact2 * 2
		phi = (float64(iphi) - fodd) * math.Pi / (2 * float64(n))
		return math.Acos(z), phi
	}

	// south polar cap
	ip := npix - pix
	iring := (1 + isqrt(2*ip-1)) / 2 // ring counted from the south pole
	iphi := 4*iring + 1 - (ip - 2*iring*(iring-1))
	z := -1 + float64(iring*iring)*fact2
	phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
	return math.Acos(z), phi
}

// isqrt returns the integer square root of v.
func isqrt(v int) int {
	r := int(math.Sqrt(float64(v)))
	for r*r > v {
		r--
	}
	for (r+1)*(r+1) <= v {
		r++
	}
	return r
}
