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
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"
	log "github.com/sirupsen/logrus"

	"github.com/dmopalmer/BatAnalysis/healpix"
)

// ImageType tags the physical meaning of a sky image's contents. The
// meaning determines how the image may be aggregated: uncertainty-like
// quantities combine in quadrature, and fractional or normalization
// quantities cannot be summed over energy at all.
type ImageType int

const (
	// ImageTypeUnset marks an image whose meaning was never declared.
	ImageTypeUnset ImageType = iota
	// Flux is a reconstructed sky flux map.
	Flux
	// PartialCoding is the per-pixel fraction of the field of view
	// unobstructed by the coded mask. Dimensionless.
	PartialCoding
	// SignalToNoise is a detection-significance map. Dimensionless.
	SignalToNoise
	// BackgroundStdDev is a background standard-deviation map.
	BackgroundStdDev
	// Exposure is an exposure map.
	Exposure
)

var imageTypeNames = map[ImageType]string{
	ImageTypeUnset:   "none",
	Flux:             "flux",
	PartialCoding:    "partial_coding",
	SignalToNoise:    "signal_to_noise",
	BackgroundStdDev: "background_stddev",
	Exposure:         "exposure",
}

// extension-name keywords used in sky image files for each type.
var imageTypeKeywords = map[ImageType]string{
	Flux:             "IMAGE",
	PartialCoding:    "PCODE",
	SignalToNoise:    "SIGNIF",
	BackgroundStdDev: "VARMAP",
	Exposure:         "EXPOSURE",
}

func (t ImageType) String() string {
	if s, ok := imageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ImageType(%d)", int(t))
}

// ParseImageType converts an image-type name to its ImageType.
func ParseImageType(s string) (ImageType, error) {
	for t, name := range imageTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return ImageTypeUnset, fmt.Errorf("batanalysis: %s is not a recognized image type", s)
}

// valid reports whether t belongs to the closed set of image types.
func (t ImageType) valid() bool {
	_, ok := imageTypeNames[t]
	return ok
}

// Dimensionless reports whether images of this type carry no physical
// unit regardless of any unit recorded on disk.
func (t ImageType) Dimensionless() bool {
	return t == PartialCoding || t == SignalToNoise
}

// imageTypeForExtname classifies a file extension name, matching the
// type keyword case-insensitively as a substring.
func imageTypeForExtname(name string) (ImageType, bool) {
	for t, kw := range imageTypeKeywords {
		if strings.Contains(strings.ToLower(name), strings.ToLower(kw)) {
			return t, true
		}
	}
	return ImageTypeUnset, false
}

// A collapseStrategy collapses a histogram onto the kept axes.
type collapseStrategy func(h *Histogram, keep []string) (*Histogram, error)

func linearSum(h *Histogram, keep []string) (*Histogram, error) {
	return h.Project(keep...)
}

// quadratureSum squares, sum-collapses, and takes the elementwise square
// root, so values combine as sqrt(a²+b²) rather than a+b.
func quadratureSum(h *Histogram, keep []string) (*Histogram, error) {
	p, err := h.mapElements(func(v float64) float64 { return v * v }).Project(keep...)
	if err != nil {
		return nil, err
	}
	return p.mapElements(math.Sqrt), nil
}

// lastSliceSelect collapses onto the kept axes using only the last
// energy slice; summing these quantities over energy has no meaning.
func lastSliceSelect(h *Histogram, keep []string) (*Histogram, error) {
	s, err := h.SliceBin(AxisEnergy, h.Axis(AxisEnergy).NBins()-1)
	if err != nil {
		return nil, err
	}
	return s.Project(keep...)
}

// energyStrategy returns the strategy for collapsing the ENERGY axis of
// an image of this type. Mosaic-intermediate images hold partially
// summed accumulator quantities and always combine linearly, except
// that fractional types still select the last slice.
func (t ImageType) energyStrategy(mosaicIntermediate bool) (collapseStrategy, error) {
	switch {
	case t == PartialCoding || t == Exposure:
		return lastSliceSelect, nil
	case (t == SignalToNoise || t == BackgroundStdDev) && !mosaicIntermediate:
		return quadratureSum, nil
	case mosaicIntermediate || t == Flux:
		return linearSum, nil
	default:
		return nil, fmt.Errorf("batanalysis: cannot sum a %v image over energy", t)
	}
}

// A SkyImage holds one reconstructed view of the sky for a single time
// bin: a flux map or a related diagnostic map, binned in energy, on
// either the detector tangent-plane pixel grid or a HEALPix grid.
type SkyImage struct {
	*Histogram

	// WCS maps pixel coordinates to sky coordinates. It may be nil for
	// detector-frame-only use, in which case HEALPix projection is
	// unavailable.
	WCS *WCS

	// Type declares what the contents represent.
	Type ImageType

	// MosaicIntermediate marks partially summed accumulator images that
	// must not be combined with ordinary arithmetic before finalization.
	MosaicIntermediate bool

	// NSide and Frame describe the HEALPix pixelization when the
	// spatial axis is HPX.
	NSide int
	Frame string

	GTI   GoodTimeInterval
	TBins TimeBins
	EBins EnergyBins
}

// SkyImageConfig holds the inputs for constructing a SkyImage. Exactly
// one of Data or Hist must be set. Time bounds come from TimeBins
// (shared edges), TStart/TStop pairs, or the Hist's TIME axis; energy
// bounds likewise from EnergyBins, EMin/EMax, or the Hist's ENERGY axis.
type SkyImageConfig struct {
	// Data is the image array, shaped (1, Ny, Nx, Nenergy), or
	// (1, Npix, Nenergy) when NSide is set.
	Data *sparse.DenseArray
	// Hist is a pre-existing compatible histogram whose axis labels,
	// including a HEALPix axis if present, are preserved.
	Hist *Histogram

	TimeBins      []float64 // shared time bin edges [s]
	TStart, TStop []float64 // per-bin time bounds [s]
	EnergyBins    []float64 // shared energy bin edges [keV]
	EMin, EMax    []float64 // per-bin energy bounds [keV]
	WCS           *WCS
	Units         unit.Dimensions // contents unit; defaults to counts
	Type          ImageType

	// MosaicIntermediate marks the image as an unfinalized mosaic
	// accumulator.
	MosaicIntermediate bool

	// NSide and Frame declare the pixelization when Data has a HEALPix
	// spatial axis.
	NSide int
	Frame string
}

// validatedShape is the checked geometry of an image array: one time
// bin and a recognized spatial layout.
type validatedShape struct {
	healpixSpatial bool
	ny, nx         int // tangent plane
	npix           int // HEALPix
	nEnergy        int
}

func validateShape(shape []int, healpixDeclared bool) (validatedShape, error) {
	switch len(shape) {
	case 4:
		if shape[0] != 1 {
			return validatedShape{}, fmt.Errorf("batanalysis: a sky image must hold exactly 1 time bin, the array holds %d", shape[0])
		}
		return validatedShape{ny: shape[1], nx: shape[2], nEnergy: shape[3]}, nil
	case 3:
		if !healpixDeclared {
			return validatedShape{}, fmt.Errorf("batanalysis: a 3-dimensional sky image array requires a declared HEALPix pixelization (NSide)")
		}
		if shape[0] != 1 {
			return validatedShape{}, fmt.Errorf("batanalysis: a sky image must hold exactly 1 time bin, the array holds %d", shape[0])
		}
		return validatedShape{healpixSpatial: true, npix: shape[1], nEnergy: shape[2]}, nil
	default:
		return validatedShape{}, fmt.Errorf("batanalysis: a sky image array must be 4-dimensional "+
			"(TIME, IMY, IMX, ENERGY) or 3-dimensional (TIME, HPX, ENERGY); got %d dimensions", len(shape))
	}
}

// validatePixelization checks that a HEALPix spatial axis agrees with
// the declared nside.
func validatePixelization(shape validatedShape, nside int) error {
	if !shape.healpixSpatial {
		return nil
	}
	if err := healpix.CheckNSide(nside); err != nil {
		return err
	}
	if want := healpix.Npix(nside); shape.npix != want {
		return fmt.Errorf("batanalysis: the array holds %d HEALPix pixels but nside=%d requires %d",
			shape.npix, nside, want)
	}
	return nil
}

// NewSkyImage constructs a SkyImage, validating the configuration in a
// fixed order and reconciling non-contiguous energy bins.
func NewSkyImage(c SkyImageConfig) (*SkyImage, error) {
	if c.Data == nil && c.Hist == nil {
		return nil, fmt.Errorf("batanalysis: an image array or histogram must be supplied to initialize a SkyImage")
	}
	if c.Data != nil && c.Hist != nil {
		return nil, fmt.Errorf("batanalysis: only one of an image array or a histogram may be supplied")
	}
	if c.WCS == nil {
		log.Warn("no world coordinate system has been specified; the sky image is assumed to be in " +
			"the detector tangent plane and no conversion to HEALPix will be possible")
	}
	if (c.TStart == nil) != (c.TStop == nil) {
		return nil, fmt.Errorf("batanalysis: both start and stop times must be defined")
	}
	if c.TStart != nil && len(c.TStart) != len(c.TStop) {
		return nil, fmt.Errorf("batanalysis: start and stop times must have the same length (%d and %d)",
			len(c.TStart), len(c.TStop))
	}
	if !c.Type.valid() {
		return nil, fmt.Errorf("batanalysis: %v is not a recognized image type", c.Type)
	}

	// Derive the time bin edges.
	var timeEdges []float64
	switch {
	case c.TimeBins != nil:
		timeEdges = c.TimeBins
	case c.TStart != nil:
		timeEdges = append(append([]float64{}, c.TStart...), c.TStop[len(c.TStop)-1])
	case c.Hist != nil && c.Hist.Axis(AxisTime) != nil:
		timeEdges = c.Hist.Axis(AxisTime).Edges
	default:
		return nil, fmt.Errorf("batanalysis: time bins must be specified for an image array")
	}
	if len(timeEdges) != 2 {
		return nil, fmt.Errorf("batanalysis: a SkyImage holds exactly 1 time bin; %d time bins were given",
			len(timeEdges)-1)
	}

	// Derive the energy bin edges, reconciling min/max pairs that are
	// not contiguous and redistributing the supplied array to match.
	data := c.Data
	var energyEdges []float64
	switch {
	case c.EnergyBins != nil:
		energyEdges = c.EnergyBins
	case c.EMin != nil || c.EMax != nil:
		es, err := NewEdgeSet(c.EMin, c.EMax, energyUnits)
		if err != nil {
			return nil, err
		}
		re, err := es.Reconcile()
		if err != nil {
			return nil, err
		}
		if data != nil && re.NBins() != es.NBins() {
			if data, err = re.Redistribute(data); err != nil {
				return nil, err
			}
		}
		energyEdges = re.Edges
	case c.Hist != nil && c.Hist.Axis(AxisEnergy) != nil:
		energyEdges = c.Hist.Axis(AxisEnergy).Edges
	default:
		return nil, fmt.Errorf("batanalysis: energy bins must be specified for an image array")
	}

	si := &SkyImage{
		WCS:                c.WCS,
		Type:               c.Type,
		MosaicIntermediate: c.MosaicIntermediate,
		NSide:              c.NSide,
		Frame:              c.Frame,
		TBins:              timeBinsFromEdges(timeEdges),
		EBins:              energyBinsFromEdges(energyEdges),
	}
	if c.TStart != nil {
		si.GTI = GoodTimeInterval{Start: c.TStart, Stop: c.TStop}
	} else {
		si.GTI = GoodTimeInterval{Start: si.TBins.Start, Stop: si.TBins.Stop}
	}
	si.GTI.Center = make([]float64, len(si.GTI.Start))
	for i := range si.GTI.Start {
		si.GTI.Center[i] = 0.5 * (si.GTI.Start[i] + si.GTI.Stop[i])
	}

	units := c.Units
	if units == nil {
		units = countUnits
	}
	if c.Type.Dimensionless() {
		units = nil
	}

	var hist *Histogram
	if c.Hist != nil {
		// Reuse the existing axis structure, preserving a HEALPix
		// spatial axis if one is present. The histogram must satisfy
		// the same geometry constraints as a raw array.
		hist = c.Hist.Copy()
		hist.Units = units
		healpixSpatial := hist.Axis(AxisHealpix) != nil
		if healpixSpatial && c.NSide == 0 {
			return nil, fmt.Errorf("batanalysis: a histogram with a HEALPix axis requires a declared pixelization (NSide)")
		}
		wantLabels := []string{AxisTime, AxisImageY, AxisImageX, AxisEnergy}
		if healpixSpatial {
			wantLabels = []string{AxisTime, AxisHealpix, AxisEnergy}
		}
		if strings.Join(hist.Labels(), ",") != strings.Join(wantLabels, ",") {
			return nil, fmt.Errorf("batanalysis: a sky image histogram must have axes (%s); got (%s)",
				strings.Join(wantLabels, ", "), strings.Join(hist.Labels(), ", "))
		}
		shape, err := validateShape(hist.Data.Shape, healpixSpatial)
		if err != nil {
			return nil, err
		}
		if err := validatePixelization(shape, c.NSide); err != nil {
			return nil, err
		}
		if shape.nEnergy != len(energyEdges)-1 {
			return nil, fmt.Errorf("batanalysis: the histogram holds %d energy bins but the energy edges describe %d",
				shape.nEnergy, len(energyEdges)-1)
		}
	} else {
		shape, err := validateShape(data.Shape, c.NSide > 0)
		if err != nil {
			return nil, err
		}
		if err := validatePixelization(shape, c.NSide); err != nil {
			return nil, err
		}
		if shape.nEnergy != len(energyEdges)-1 {
			return nil, fmt.Errorf("batanalysis: the array holds %d energy bins but the energy edges describe %d",
				shape.nEnergy, len(energyEdges)-1)
		}
		timeAxis, err := NewAxis(AxisTime, timeEdges, timeUnits)
		if err != nil {
			return nil, err
		}
		energyAxis, err := NewAxis(AxisEnergy, energyEdges, energyUnits)
		if err != nil {
			return nil, err
		}
		var axes []*Axis
		if shape.healpixSpatial {
			axes = []*Axis{timeAxis, pixelAxis(AxisHealpix, shape.npix), energyAxis}
		} else {
			axes = []*Axis{timeAxis, pixelAxis(AxisImageY, shape.ny), pixelAxis(AxisImageX, shape.nx), energyAxis}
		}
		if hist, err = NewHistogram(axes, data, units); err != nil {
			return nil, err
		}
	}
	si.Histogram = hist
	return si, nil
}

// Exposure returns the image's exposure duration [s].
func (si *SkyImage) Exposure() float64 { return si.GTI.Exposure() }

// Project collapses all axes not listed in keep, honoring the
// image-type aggregation semantics when the ENERGY axis is collapsed
// across more than one bin: uncertainty-class images combine in
// quadrature and fractional/normalization-class images contribute only
// their last energy slice.
func (si *SkyImage) Project(keep ...string) (*Histogram, error) {
	energyCollapsed := true
	for _, label := range keep {
		if label == AxisEnergy {
			energyCollapsed = false
		}
	}
	energyAxis := si.Axis(AxisEnergy)
	if !energyCollapsed || energyAxis == nil || energyAxis.NBins() <= 1 {
		return si.Histogram.Project(keep...)
	}
	if si.Type == ImageTypeUnset {
		log.Warn("projecting a sky image with no declared image type over energy; " +
			"defaulting to a linear sum")
		return si.Histogram.Project(keep...)
	}
	strategy, err := si.Type.energyStrategy(si.MosaicIntermediate)
	if err != nil {
		return nil, err
	}
	return strategy(si.Histogram, keep)
}

// CollapseEnergy collapses the energy axis into a single bin spanning
// the full energy range, honoring the image-type aggregation semantics,
// and returns the result as a sky image.
func (si *SkyImage) CollapseEnergy() (*SkyImage, error) {
	var keep []string
	for _, l := range si.Labels() {
		if l != AxisEnergy {
			keep = append(keep, l)
		}
	}
	h, err := si.Project(keep...)
	if err != nil {
		return nil, err
	}
	eax := si.Axis(AxisEnergy)
	axes := append(h.Axes(), &Axis{
		Label: AxisEnergy,
		Edges: []float64{eax.LoEdge(), eax.HiEdge()},
		Units: energyUnits,
	})
	shape := append(append([]int{}, h.Data.Shape...), 1)
	data := sparse.ZerosDense(shape...)
	copy(data.Elements, h.Data.Elements)
	hist, err := NewHistogram(axes, data, h.Units)
	if err != nil {
		return nil, err
	}
	return NewSkyImage(SkyImageConfig{
		Hist:               hist,
		TStart:             si.GTI.Start,
		TStop:              si.GTI.Stop,
		WCS:                si.WCS,
		Units:              si.Units,
		Type:               si.Type,
		MosaicIntermediate: si.MosaicIntermediate,
		NSide:              si.NSide,
		Frame:              si.Frame,
	})
}

// HealpixProjection reprojects the image onto a HEALPix pixelization at
// the requested resolution and coordinate frame. If the image already
// carries a HEALPix axis, the stored pixelization must match the request
// exactly and a copy is returned. Reprojection from the tangent plane
// requires an attached world coordinate system.
func (si *SkyImage) HealpixProjection(frame string, nside int) (*SkyImage, error) {
	frame = strings.ToLower(frame)
	if frame != FrameGalactic && frame != FrameICRS {
		return nil, fmt.Errorf("batanalysis: HEALPix maps can only be constructed in the %s or %s frames, not %s",
			FrameGalactic, FrameICRS, frame)
	}
	if err := healpix.CheckNSide(nside); err != nil {
		return nil, err
	}

	if si.Axis(AxisHealpix) != nil {
		if si.NSide != nside || !strings.EqualFold(si.Frame, frame) {
			return nil, fmt.Errorf("batanalysis: the stored HEALPix map (nside=%d, frame=%s) does not match "+
				"the requested pixelization (nside=%d, frame=%s)", si.NSide, si.Frame, nside, frame)
		}
		out := *si
		out.Histogram = si.Histogram.Copy()
		return &out, nil
	}
	if si.WCS == nil {
		return nil, fmt.Errorf("batanalysis: the sky image has no world coordinate system attached, " +
			"so it cannot be reprojected to HEALPix")
	}

	nt := si.Axis(AxisTime).NBins()
	ne := si.Axis(AxisEnergy).NBins()
	ny := si.Axis(AxisImageY).NBins()
	nx := si.Axis(AxisImageX).NBins()
	npix := healpix.Npix(nside)
	out := sparse.ZerosDense(nt, npix, ne)
	for t := 0; t < nt; t++ {
		for e := 0; e < ne; e++ {
			for p := 0; p < npix; p++ {
				theta, phi := healpix.PixToAng(nside, p)
				lon := phi * 180 / math.Pi
				lat := 90 - theta*180/math.Pi
				ra, dec := lon, lat
				if frame == FrameGalactic {
					ra, dec = GalacticToICRS(lon, lat)
				}
				x, y, ok := si.WCS.WorldToPix(ra, dec)
				v := math.NaN()
				if ok {
					v = si.interpolate(t, e, x, y, ny, nx)
				}
				out.Set(v, t, p, e)
			}
		}
	}

	proj := &SkyImage{
		WCS:                si.WCS,
		Type:               si.Type,
		MosaicIntermediate: si.MosaicIntermediate,
		NSide:              nside,
		Frame:              frame,
		GTI:                si.GTI,
		TBins:              si.TBins,
		EBins:              si.EBins,
	}
	timeAxis := si.Axis(AxisTime).Copy()
	energyAxis := si.Axis(AxisEnergy).Copy()
	hist, err := NewHistogram([]*Axis{timeAxis, pixelAxis(AxisHealpix, npix), energyAxis}, out, si.Units)
	if err != nil {
		return nil, err
	}
	proj.Histogram = hist
	return proj, nil
}

// interpolate bilinearly samples the (t, e) image slice at fractional
// pixel position (x, y), returning NaN outside the image footprint.
func (si *SkyImage) interpolate(t, e int, x, y float64, ny, nx int) float64 {
	if x < 0 || y < 0 || x > float64(nx-1) || y > float64(ny-1) {
		return math.NaN()
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 > nx-1 {
		x1 = nx - 1
	}
	if y1 > ny-1 {
		y1 = ny - 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)
	v00 := si.Data.Get(t, y0, x0, e)
	v01 := si.Data.Get(t, y0, x1, e)
	v10 := si.Data.Get(t, y1, x0, e)
	v11 := si.Data.Get(t, y1, x1, e)
	return v00*(1-fx)*(1-fy) + v01*fx*(1-fy) + v10*(1-fx)*fy + v11*fx*fy
}
