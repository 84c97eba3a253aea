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

package batanalysis

import (
	"math"
	"testing"
)

func TestWCSReferencePixel(t *testing.T) {
	w := testWCS()
	ra, dec := w.PixToWorld(w.CRPix1-1, w.CRPix2-1)
	if math.Abs(ra-w.CRVal1) > testTolerance || math.Abs(dec-w.CRVal2) > testTolerance {
		t.Errorf("reference pixel maps to (%g, %g), want (%g, %g)", ra, dec, w.CRVal1, w.CRVal2)
	}
}

func TestWCSRoundTrip(t *testing.T) {
	w := testWCS()
	for _, px := range []float64{0, 2.5, 5, 8.25, 10} {
		for _, py := range []float64{0, 1.75, 5, 10} {
			ra, dec := w.PixToWorld(px, py)
			x, y, ok := w.WorldToPix(ra, dec)
			if !ok {
				t.Fatalf("pixel (%g, %g) projected out of the visible hemisphere", px, py)
			}
			if math.Abs(x-px) > 1.e-8 || math.Abs(y-py) > 1.e-8 {
				t.Errorf("pixel (%g, %g) round-tripped to (%g, %g)", px, py, x, y)
			}
		}
	}
}

func TestWCSFarHemisphere(t *testing.T) {
	w := testWCS()
	if _, _, ok := w.WorldToPix(w.CRVal1+180, -w.CRVal2); ok {
		t.Error("the antipode of the pointing should not be projectable")
	}
}

func TestGalacticCenter(t *testing.T) {
	ra, dec := GalacticToICRS(0, 0)
	if math.Abs(ra-266.405) > 0.01 || math.Abs(dec+28.936) > 0.01 {
		t.Errorf("galactic center: got (%g, %g), want (266.405, -28.936)", ra, dec)
	}
}

func TestGalacticRoundTrip(t *testing.T) {
	for _, c := range [][2]float64{{0, 0}, {83.63, 22.01}, {266.4, -29.0}, {350, 70}} {
		l, b := ICRSToGalactic(c[0], c[1])
		ra, dec := GalacticToICRS(l, b)
		dra := math.Abs(ra - c[0])
		if dra > 180 {
			dra = math.Abs(dra - 360)
		}
		if dra*math.Cos(c[1]*deg) > 1.e-8 || math.Abs(dec-c[1]) > 1.e-8 {
			t.Errorf("(%g, %g) round-tripped to (%g, %g)", c[0], c[1], ra, dec)
		}
	}
}
