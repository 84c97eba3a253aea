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
	"bytes"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
	log "github.com/sirupsen/logrus"

	"github.com/dmopalmer/BatAnalysis/healpix"
)

func testWCS() *WCS {
	return &WCS{
		CType1: "RA---TAN", CType2: "DEC--TAN",
		CRPix1: 6, CRPix2: 6,
		CRVal1: 10, CRVal2: 20,
		CDelt1: -0.5, CDelt2: 0.5,
	}
}

// testImage builds a 1x1x1xN sky image with contiguous 10 keV wide
// energy bins starting at 15 keV and one value per bin.
func testImage(t *testing.T, typ ImageType, mosaic bool, evals ...float64) *SkyImage {
	t.Helper()
	ne := len(evals)
	data := sparse.ZerosDense(1, 1, 1, ne)
	emin := make([]float64, ne)
	emax := make([]float64, ne)
	for e, v := range evals {
		data.Set(v, 0, 0, 0, e)
		emin[e] = 15 + 10*float64(e)
		emax[e] = 25 + 10*float64(e)
	}
	si, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   emin,
		EMax:   emax,
		WCS:    testWCS(),
		Type:   typ,

		MosaicIntermediate: mosaic,
	})
	if err != nil {
		t.Fatal(err)
	}
	return si
}

func collapse(t *testing.T, si *SkyImage) float64 {
	t.Helper()
	h, err := si.Project(AxisTime, AxisImageY, AxisImageX)
	if err != nil {
		t.Fatal(err)
	}
	return h.Data.Get(0, 0, 0)
}

func TestNewSkyImageMultipleTimeBins(t *testing.T) {
	data := sparse.ZerosDense(1, 1, 1, 1)
	_, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0, 100},
		TStop:  []float64{100, 200},
		EMin:   []float64{15},
		EMax:   []float64{25},
		WCS:    testWCS(),
		Type:   Flux,
	})
	if err == nil {
		t.Fatal("expected an error for multiple time bins")
	}
	if !strings.Contains(err.Error(), "exactly 1 time bin") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSkyImageMismatchedTimes(t *testing.T) {
	data := sparse.ZerosDense(1, 1, 1, 1)
	_, err := NewSkyImage(SkyImageConfig{
		Data:  data,
		TStop: []float64{100},
		EMin:  []float64{15},
		EMax:  []float64{25},
		WCS:   testWCS(),
		Type:  Flux,
	})
	if err == nil {
		t.Fatal("expected an error when only stop times are given")
	}
}

func TestNewSkyImageHistogramMultipleTimeBins(t *testing.T) {
	tax, err := NewAxis(AxisTime, []float64{0, 50, 100}, timeUnits)
	if err != nil {
		t.Fatal(err)
	}
	eax, err := NewAxis(AxisEnergy, []float64{15, 25}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	axes := []*Axis{tax, pixelAxis(AxisImageY, 1), pixelAxis(AxisImageX, 1), eax}
	h, err := NewHistogram(axes, sparse.ZerosDense(2, 1, 1, 1), countUnits)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewSkyImage(SkyImageConfig{
		Hist:   h,
		TStart: []float64{0},
		TStop:  []float64{100},
		WCS:    testWCS(),
		Type:   Flux,
	})
	if err == nil {
		t.Fatal("expected an error for a histogram with multiple time bins")
	}
	if !strings.Contains(err.Error(), "exactly 1 time bin") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSkyImageHistogramBadAxes(t *testing.T) {
	tax, err := NewAxis(AxisTime, []float64{0, 100}, timeUnits)
	if err != nil {
		t.Fatal(err)
	}
	eax, err := NewAxis(AxisEnergy, []float64{15, 25}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	h, err := NewHistogram([]*Axis{tax, eax}, sparse.ZerosDense(1, 1), countUnits)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewSkyImage(SkyImageConfig{
		Hist:   h,
		TStart: []float64{0},
		TStop:  []float64{100},
		WCS:    testWCS(),
		Type:   Flux,
	})
	if err == nil {
		t.Fatal("expected an error for a histogram without spatial axes")
	}
	if !strings.Contains(err.Error(), "must have axes") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSkyImageHistogramEnergyMismatch(t *testing.T) {
	tax, err := NewAxis(AxisTime, []float64{0, 100}, timeUnits)
	if err != nil {
		t.Fatal(err)
	}
	eax, err := NewAxis(AxisEnergy, []float64{15, 25, 50}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	axes := []*Axis{tax, pixelAxis(AxisImageY, 1), pixelAxis(AxisImageX, 1), eax}
	h, err := NewHistogram(axes, sparse.ZerosDense(1, 1, 1, 2), countUnits)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewSkyImage(SkyImageConfig{
		Hist:   h,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   []float64{15},
		EMax:   []float64{25},
		WCS:    testWCS(),
		Type:   Flux,
	})
	if err == nil {
		t.Fatal("expected an error for an energy bin count mismatch")
	}
	if !strings.Contains(err.Error(), "energy bins") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSkyImageReconcilesEnergy(t *testing.T) {
	data := sparse.ZerosDense(1, 1, 1, 2)
	data.Set(1, 0, 0, 0, 0)
	data.Set(2, 0, 0, 0, 1)
	si, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   []float64{15, 50},
		EMax:   []float64{25, 100},
		WCS:    testWCS(),
		Type:   Flux,
	})
	if err != nil {
		t.Fatal(err)
	}
	eax := si.Axis(AxisEnergy)
	if !floats.Equal(eax.Edges, []float64{15, 25, 50, 100}) {
		t.Errorf("reconciled edges: got %v", eax.Edges)
	}
	want := []float64{1, 0, 2}
	if !floats.EqualApprox(si.Data.Elements, want, testTolerance) {
		t.Errorf("redistributed contents: got %v, want %v", si.Data.Elements, want)
	}

	// The bookkeeping describes every reconciled bin, filler included,
	// so the on-disk E_MIN/E_MAX cards stay aligned with the data planes.
	if !floats.Equal(si.EBins.Min, []float64{15, 25, 50}) || !floats.Equal(si.EBins.Max, []float64{25, 50, 100}) {
		t.Errorf("energy bookkeeping: got %v-%v", si.EBins.Min, si.EBins.Max)
	}
}

func TestDimensionlessTypesCarryNoUnits(t *testing.T) {
	si := testImage(t, PartialCoding, false, 0.5)
	if si.Units != nil {
		t.Errorf("partial coding image carries units %v", si.Units)
	}
	flux := testImage(t, Flux, false, 1)
	if !flux.Units.Matches(countUnits) {
		t.Errorf("flux image units: got %v", flux.Units)
	}
}

func TestMissingWCSWarns(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	data := sparse.ZerosDense(1, 1, 1, 1)
	if _, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   []float64{15},
		EMax:   []float64{25},
		Type:   Flux,
	}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no world coordinate system") {
		t.Error("expected a warning for the missing coordinate system")
	}
}

func TestProjectFluxSums(t *testing.T) {
	si := testImage(t, Flux, false, 3, 4)
	if got := collapse(t, si); got != 7 {
		t.Errorf("flux energy collapse: got %g, want 7", got)
	}
}

func TestProjectSNRQuadrature(t *testing.T) {
	si := testImage(t, SignalToNoise, false, 3, 4)
	if got := collapse(t, si); math.Abs(got-5) > testTolerance {
		t.Errorf("SNR energy collapse: got %g, want 5", got)
	}
}

func TestProjectStdDevQuadrature(t *testing.T) {
	si := testImage(t, BackgroundStdDev, false, 3, 4)
	if got := collapse(t, si); math.Abs(got-5) > testTolerance {
		t.Errorf("background stddev energy collapse: got %g, want 5", got)
	}
}

func TestProjectMosaicIntermediateSums(t *testing.T) {
	si := testImage(t, BackgroundStdDev, true, 3, 4)
	if got := collapse(t, si); got != 7 {
		t.Errorf("mosaic intermediate energy collapse: got %g, want 7", got)
	}
}

func TestProjectPartialCodingLastSlice(t *testing.T) {
	si := testImage(t, PartialCoding, false, 0.2, 0.3, 0.7)
	if got := collapse(t, si); got != 0.7 {
		t.Errorf("partial coding energy collapse: got %g, want 0.7", got)
	}
}

func TestProjectExposureLastSlice(t *testing.T) {
	si := testImage(t, Exposure, false, 90, 80)
	if got := collapse(t, si); got != 80 {
		t.Errorf("exposure energy collapse: got %g, want 80", got)
	}
}

func TestProjectUnsetTypeWarnsAndSums(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	si := testImage(t, ImageTypeUnset, false, 3, 4)
	buf.Reset()
	if got := collapse(t, si); got != 7 {
		t.Errorf("untyped energy collapse: got %g, want 7", got)
	}
	if !strings.Contains(buf.String(), "defaulting to a linear sum") {
		t.Error("expected a warning for collapsing an untyped image")
	}
}

func TestProjectKeepingEnergyBypassesPolicy(t *testing.T) {
	si := testImage(t, SignalToNoise, false, 3, 4)
	h, err := si.Project(AxisImageY, AxisImageX, AxisEnergy)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(h.Data.Elements, []float64{3, 4}) {
		t.Errorf("contents changed when the energy axis was kept: %v", h.Data.Elements)
	}
}

func TestCollapseEnergy(t *testing.T) {
	si := testImage(t, Flux, false, 3, 4)
	out, err := si.CollapseEnergy()
	if err != nil {
		t.Fatal(err)
	}
	eax := out.Axis(AxisEnergy)
	if eax.NBins() != 1 {
		t.Fatalf("collapsed image has %d energy bins", eax.NBins())
	}
	if !floats.Equal(eax.Edges, []float64{15, 35}) {
		t.Errorf("collapsed energy edges: got %v", eax.Edges)
	}
	if got := out.Data.Get(0, 0, 0, 0); got != 7 {
		t.Errorf("collapsed value: got %g, want 7", got)
	}
	if out.Type != Flux {
		t.Errorf("collapsed type: got %v", out.Type)
	}
}

func testHealpixImage(t *testing.T, nside int) *SkyImage {
	t.Helper()
	npix := healpix.Npix(nside)
	data := sparse.ZerosDense(1, npix, 1)
	si, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   []float64{15},
		EMax:   []float64{25},
		Type:   Flux,
		NSide:  nside,
		Frame:  FrameICRS,
	})
	if err != nil {
		t.Fatal(err)
	}
	return si
}

func TestHealpixProjectionStoredMismatch(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	si := testHealpixImage(t, 1)
	if _, err := si.HealpixProjection(FrameICRS, 2); err == nil {
		t.Error("expected an error for an nside mismatch")
	}
	if _, err := si.HealpixProjection(FrameGalactic, 1); err == nil {
		t.Error("expected an error for a frame mismatch")
	}
	out, err := si.HealpixProjection(FrameICRS, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(out.Data.Elements, si.Data.Elements) {
		t.Error("matching request should return the stored map")
	}
}

func TestHealpixProjectionBadRequest(t *testing.T) {
	si := testImage(t, Flux, false, 1)
	if _, err := si.HealpixProjection("fk5", 64); err == nil {
		t.Error("expected an error for an unsupported frame")
	}
	if _, err := si.HealpixProjection(FrameICRS, 3); err == nil {
		t.Error("expected an error for a non power of 2 nside")
	}
}

func TestHealpixProjectionNoWCS(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	data := sparse.ZerosDense(1, 1, 1, 1)
	si, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   []float64{15},
		EMax:   []float64{25},
		Type:   Flux,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := si.HealpixProjection(FrameICRS, 64); err == nil {
		t.Error("expected an error for a missing coordinate system")
	}
}

func TestHealpixProjectionFromTangentPlane(t *testing.T) {
	const nside = 64
	data := sparse.ZerosDense(1, 11, 11, 1)
	for i := range data.Elements {
		data.Elements[i] = 2
	}
	si, err := NewSkyImage(SkyImageConfig{
		Data:   data,
		TStart: []float64{0},
		TStop:  []float64{100},
		EMin:   []float64{15},
		EMax:   []float64{25},
		WCS:    testWCS(),
		Type:   Flux,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := si.HealpixProjection(FrameICRS, nside)
	if err != nil {
		t.Fatal(err)
	}
	if out.NSide != nside || out.Frame != FrameICRS {
		t.Errorf("pixelization: got nside=%d frame=%s", out.NSide, out.Frame)
	}
	if out.Axis(AxisHealpix).NBins() != healpix.Npix(nside) {
		t.Fatalf("map holds %d pixels", out.Axis(AxisHealpix).NBins())
	}

	// The pixel containing the pointing direction is interpolated from
	// the constant image.
	deg := math.Pi / 180
	at := healpix.AngToPix(nside, (90-20)*deg, 10*deg)
	if got := out.Data.Get(0, at, 0); math.Abs(got-2) > 1.e-6 {
		t.Errorf("on-axis pixel: got %g, want 2", got)
	}

	// Directions outside the field of view are unobserved.
	away := healpix.AngToPix(nside, (90+20)*deg, 190*deg)
	if got := out.Data.Get(0, away, 0); !math.IsNaN(got) {
		t.Errorf("far-field pixel: got %g, want NaN", got)
	}
}
