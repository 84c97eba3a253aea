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
	"os"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/ctessum/sparse"
)

// A Lightcurve is a TIME x ENERGY histogram of counts. Rebinning onto
// coarser time or energy bins merges existing bins; the new edges must
// be drawn from the existing ones, since counts cannot be split below
// the binning they were accumulated with.
type Lightcurve struct {
	*Histogram
}

// NewLightcurve creates a light curve from a counts array with shape
// (time bins, energy bins) and the bin edges of both axes.
func NewLightcurve(data *sparse.DenseArray, timeEdges, energyEdges []float64) (*Lightcurve, error) {
	tax, err := NewAxis(AxisTime, timeEdges, timeUnits)
	if err != nil {
		return nil, err
	}
	eax, err := NewAxis(AxisEnergy, energyEdges, energyUnits)
	if err != nil {
		return nil, err
	}
	h, err := NewHistogram([]*Axis{tax, eax}, data, countUnits)
	if err != nil {
		return nil, err
	}
	return &Lightcurve{Histogram: h}, nil
}

// SetTimebins rebins the light curve onto the given time edges.
func (l *Lightcurve) SetTimebins(edges []float64) error {
	h, err := l.rebin(AxisTime, edges)
	if err != nil {
		return err
	}
	l.Histogram = h
	return nil
}

// SetEnergybins rebins the light curve onto the given energy edges.
func (l *Lightcurve) SetEnergybins(edges []float64) error {
	h, err := l.rebin(AxisEnergy, edges)
	if err != nil {
		return err
	}
	l.Histogram = h
	return nil
}

// Rates returns the count rates, the counts divided by the time bin
// widths.
func (l *Lightcurve) Rates() *Histogram {
	out := l.Histogram.Copy()
	widths := make([]float64, l.Axis(AxisTime).NBins())
	for i := range widths {
		widths[i] = l.Axis(AxisTime).Edges[i+1] - l.Axis(AxisTime).Edges[i]
	}
	j := l.axisIndex(AxisTime)
	for i1d := range out.Data.Elements {
		idx := out.Data.IndexNd(i1d)
		out.Data.Elements[i1d] /= widths[idx[j]]
	}
	out.Units = rateUnits
	return out
}

// rebin merges the labeled axis onto a coarser edge set. Every new edge
// must already be an edge of the axis; bins outside the new range are
// dropped.
func (h *Histogram) rebin(label string, edges []float64) (*Histogram, error) {
	j := h.axisIndex(label)
	if j < 0 {
		return nil, fmt.Errorf("batanalysis: no axis labeled %s to rebin", label)
	}
	newAx, err := NewAxis(label, edges, h.axes[j].Units)
	if err != nil {
		return nil, err
	}
	old := h.axes[j].Edges
	for _, e := range edges {
		i := sort.SearchFloat64s(old, e)
		if i >= len(old) || old[i] != e {
			return nil, fmt.Errorf("batanalysis: the new %s edge %g is not an existing bin edge; "+
				"bins can only be merged, not split", label, e)
		}
	}

	outAxes := make([]*Axis, len(h.axes))
	dims := make([]int, len(h.axes))
	for i, a := range h.axes {
		outAxes[i] = a.Copy()
		dims[i] = a.NBins()
	}
	outAxes[j] = newAx
	dims[j] = newAx.NBins()

	centers := h.axes[j].Centers()
	out := sparse.ZerosDense(dims...)
	for i1d, v := range h.Data.Elements {
		idx := h.Data.IndexNd(i1d)
		t := newAx.FindBin(centers[idx[j]])
		if t < 0 {
			continue
		}
		idx[j] = t
		out.AddVal(v, idx...)
	}
	return &Histogram{axes: outAxes, Data: out, Units: h.Units}, nil
}

type rateRow struct {
	Time    float64   `fits:"TIME"`
	TimeDel float64   `fits:"TIMEDEL"`
	Rate    []float64 `fits:"RATE"`
}

// ReadLightcurve reads a light curve from a FITS RATE table as written
// by the event binning ground software: TIME, TIMEDEL and RATE columns,
// with the energy band bounds in an EBOUNDS extension. The rates are
// converted to counts on ingestion.
func ReadLightcurve(path string) (*Lightcurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batanalysis: the light curve file %s does not seem to exist: %v", path, err)
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("batanalysis: reading light curve file %s: %v", path, err)
	}
	defer fits.Close()

	var rate, ebounds *fitsio.Table
	for _, hdu := range fits.HDUs() {
		tbl, ok := hdu.(*fitsio.Table)
		if !ok {
			continue
		}
		lower := strings.ToLower(hdu.Name())
		switch {
		case strings.Contains(lower, "ebounds"):
			ebounds = tbl
		case strings.Contains(lower, "rate"):
			rate = tbl
		}
	}
	if rate == nil {
		return nil, fmt.Errorf("batanalysis: the file %s holds no RATE extension", path)
	}

	var (
		times  []float64
		dts    []float64
		rates  [][]float64
		nbands int
	)
	err = readRows(rate, func(rows *fitsio.Rows) error {
		var r rateRow
		if err := rows.Scan(&r); err != nil {
			return err
		}
		if nbands == 0 {
			nbands = len(r.Rate)
		} else if len(r.Rate) != nbands {
			return fmt.Errorf("row holds %d energy bands, expected %d", len(r.Rate), nbands)
		}
		times = append(times, r.Time)
		dts = append(dts, r.TimeDel)
		rates = append(rates, r.Rate)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batanalysis: reading RATE table: %v", err)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("batanalysis: the RATE table in %s is empty", path)
	}

	// The rows must tile the time axis; a gap would silently stretch
	// the preceding bin and misattribute its counts.
	const edgeTolerance = 1e-9
	timeEdges := make([]float64, 0, len(times)+1)
	for i, t := range times {
		if i > 0 && math.Abs(times[i-1]+dts[i-1]-t) > edgeTolerance {
			return nil, fmt.Errorf("batanalysis: the RATE table in %s is not contiguous: the row at "+
				"TIME=%g ends at %g but the next row starts at %g", path, times[i-1], times[i-1]+dts[i-1], t)
		}
		timeEdges = append(timeEdges, t)
		if i == len(times)-1 {
			timeEdges = append(timeEdges, t+dts[i])
		}
	}

	// Energy band bounds. When no EBOUNDS table is present the light
	// curve covers the full coded band.
	energyEdges := []float64{15, 350}
	if ebounds == nil && nbands != 1 {
		return nil, fmt.Errorf("batanalysis: the file %s holds %d rate bands but no EBOUNDS extension",
			path, nbands)
	}
	if ebounds != nil {
		if int(ebounds.NumRows()) != nbands {
			return nil, fmt.Errorf("batanalysis: the number of energy bins, %d, is not equal to the "+
				"number of rate bands, %d", ebounds.NumRows(), nbands)
		}
		var emin, emax []float64
		err := readRows(ebounds, func(rows *fitsio.Rows) error {
			var er eboundsRow
			if err := rows.Scan(&er); err != nil {
				return err
			}
			emin = append(emin, er.EMin)
			emax = append(emax, er.EMax)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("batanalysis: reading EBOUNDS: %v", err)
		}
		es, err := NewEdgeSet(emin, emax, energyUnits)
		if err != nil {
			return nil, err
		}
		if !es.Contiguous() {
			return nil, fmt.Errorf("batanalysis: light curve energy bands must be contiguous")
		}
		energyEdges = append(emin, emax[len(emax)-1])
	}

	data := sparse.ZerosDense(len(times), nbands)
	for i, row := range rates {
		for e, r := range row {
			data.Set(r*dts[i], i, e)
		}
	}
	return NewLightcurve(data, timeEdges, energyEdges)
}
