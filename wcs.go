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

	"gonum.org/v1/gonum/mat"
)

// Coordinate frames accepted for HEALPix maps.
const (
	FrameGalactic = "galactic"
	FrameICRS     = "icrs"
)

const deg = math.Pi / 180

// WCS is a gnomonic (TAN) world coordinate system mapping detector
// tangent-plane pixels to celestial coordinates, described by the
// standard FITS projection keywords. Pixel coordinates here are
// zero-based; CRPix follows the one-based FITS convention.
type WCS struct {
	CType1, CType2 string  // projection types, normally RA---TAN / DEC--TAN
	CRPix1, CRPix2 float64 // reference pixel (1-based)
	CRVal1, CRVal2 float64 // sky coordinates at the reference pixel [deg]
	CDelt1, CDelt2 float64 // pixel scale [deg/pixel]
}

// PixToWorld converts a zero-based pixel position to right ascension
// and declination [deg].
func (w *WCS) PixToWorld(x, y float64) (ra, dec float64) {
	// Standard (intermediate world) coordinates in radians.
	xi := w.CDelt1 * (x + 1 - w.CRPix1) * deg
	eta := w.CDelt2 * (y + 1 - w.CRPix2) * deg
	ra0 := w.CRVal1 * deg
	dec0 := w.CRVal2 * deg

	den := math.Cos(dec0) - eta*math.Sin(dec0)
	ra = ra0 + math.Atan2(xi, den)
	dec = math.Atan2(math.Sin(dec0)+eta*math.Cos(dec0), math.Hypot(xi, den))

	ra /= deg
	if ra < 0 {
		ra += 360
	} else if ra >= 360 {
		ra -= 360
	}
	return ra, dec / deg
}

// WorldToPix converts right ascension and declination [deg] to a
// zero-based pixel position. ok is false when the direction lies on the
// far hemisphere, where the gnomonic projection is undefined.
func (w *WCS) WorldToPix(ra, dec float64) (x, y float64, ok bool) {
	ra0 := w.CRVal1 * deg
	dec0 := w.CRVal2 * deg
	r := ra * deg
	d := dec * deg

	cosc := math.Sin(dec0)*math.Sin(d) + math.Cos(dec0)*math.Cos(d)*math.Cos(r-ra0)
	if cosc <= 0 {
		return 0, 0, false
	}
	xi := math.Cos(d) * math.Sin(r-ra0) / cosc
	eta := (math.Sin(d)*math.Cos(dec0) - math.Cos(d)*math.Sin(dec0)*math.Cos(r-ra0)) / cosc

	x = w.CRPix1 - 1 + xi/deg/w.CDelt1
	y = w.CRPix2 - 1 + eta/deg/w.CDelt2
	return x, y, true
}

// icrsToGal is the J2000 rotation from ICRS equatorial to galactic
// cartesian coordinates (Hipparcos definition).
var icrsToGal = mat.NewDense(3, 3, []float64{
	-0.0548755604162154, -0.8734370902348850, -0.4838350155487132,
	+0.4941094278755837, -0.4448296299600112, +0.7469822444972189,
	-0.8676661490190047, -0.1980763734312015, +0.4559837761750669,
})

func rotate(m mat.Matrix, lon, lat float64) (outLon, outLat float64) {
	l := lon * deg
	b := lat * deg
	v := mat.NewVecDense(3, []float64{
		math.Cos(b) * math.Cos(l),
		math.Cos(b) * math.Sin(l),
		math.Sin(b),
	})
	var out mat.VecDense
	out.MulVec(m, v)
	outLat = math.Asin(out.AtVec(2)) / deg
	outLon = math.Atan2(out.AtVec(1), out.AtVec(0)) / deg
	if outLon < 0 {
		outLon += 360
	}
	return outLon, outLat
}

// ICRSToGalactic converts equatorial coordinates [deg] to galactic
// longitude and latitude [deg].
func ICRSToGalactic(ra, dec float64) (l, b float64) {
	return rotate(icrsToGal, ra, dec)
}

// GalacticToICRS converts galactic coordinates [deg] to right ascension
// and declination [deg].
func GalacticToICRS(l, b float64) (ra, dec float64) {
	return rotate(icrsToGal.T(), l, b)
}
