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
	"sort"

	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"
)

// Axis labels used by BAT binned products.
const (
	AxisTime    = "TIME"
	AxisImageY  = "IMY"
	AxisImageX  = "IMX"
	AxisHealpix = "HPX"
	AxisEnergy  = "ENERGY"
)

// An Axis is an ordered sequence of bin edges with a label and a
// physical unit. Bin i spans [Edges[i], Edges[i+1]).
type Axis struct {
	Label string
	Edges []float64
	Units unit.Dimensions
}

// NewAxis creates an axis, checking that the edges are strictly increasing
// and describe at least one bin.
func NewAxis(label string, edges []float64, units unit.Dimensions) (*Axis, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("batanalysis: axis %s requires at least 2 bin edges, got %d", label, len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, fmt.Errorf("batanalysis: axis %s edges must be strictly increasing", label)
		}
	}
	return &Axis{Label: label, Edges: edges, Units: units}, nil
}

// pixelAxis creates an index axis for n image pixels, with edges at
// half-integer positions so that pixel i is centered on i.
func pixelAxis(label string, n int) *Axis {
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = float64(i) - 0.5
	}
	return &Axis{Label: label, Edges: edges}
}

// NBins returns the number of bins on the axis.
func (a *Axis) NBins() int { return len(a.Edges) - 1 }

// LoEdge returns the lowest bin edge.
func (a *Axis) LoEdge() float64 { return a.Edges[0] }

// HiEdge returns the highest bin edge.
func (a *Axis) HiEdge() float64 { return a.Edges[len(a.Edges)-1] }

// FindBin returns the index of the bin containing v, or -1 if v lies
// outside the axis range.
func (a *Axis) FindBin(v float64) int {
	if v < a.LoEdge() || v >= a.HiEdge() {
		return -1
	}
	i := sort.SearchFloat64s(a.Edges, v)
	if i < len(a.Edges) && a.Edges[i] == v {
		return i
	}
	return i - 1
}

// Centers returns the bin centers.
func (a *Axis) Centers() []float64 {
	c := make([]float64, a.NBins())
	for i := range c {
		c[i] = 0.5 * (a.Edges[i] + a.Edges[i+1])
	}
	return c
}

// Copy returns a deep copy of the axis.
func (a *Axis) Copy() *Axis {
	edges := make([]float64, len(a.Edges))
	copy(edges, a.Edges)
	return &Axis{Label: a.Label, Edges: edges, Units: a.Units}
}

// A Histogram is a multi-dimensional binned array with labeled,
// unit-aware axes. It replaces the axis-labeling semantics BAT data
// handling otherwise relies on an external histogram library for.
type Histogram struct {
	Data  *sparse.DenseArray
	Units unit.Dimensions // unit of the contents; nil means dimensionless

	axes []*Axis
}

// NewHistogram creates a histogram from axes and contents. The array
// shape must match the axis bin counts, in order.
func NewHistogram(axes []*Axis, data *sparse.DenseArray, units unit.Dimensions) (*Histogram, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("batanalysis: a histogram requires at least one axis")
	}
	if len(data.Shape) != len(axes) {
		return nil, fmt.Errorf("batanalysis: histogram array has %d dimensions but %d axes were given",
			len(data.Shape), len(axes))
	}
	for i, ax := range axes {
		if data.Shape[i] != ax.NBins() {
			return nil, fmt.Errorf("batanalysis: histogram axis %s has %d bins but the array dimension is %d",
				ax.Label, ax.NBins(), data.Shape[i])
		}
	}
	return &Histogram{axes: axes, Data: data, Units: units}, nil
}

// Axes returns the histogram's axes in array order.
func (h *Histogram) Axes() []*Axis { return h.axes }

// Labels returns the axis labels in array order.
func (h *Histogram) Labels() []string {
	l := make([]string, len(h.axes))
	for i, ax := range h.axes {
		l[i] = ax.Label
	}
	return l
}

// Axis returns the axis with the given label, or nil if there is none.
func (h *Histogram) Axis(label string) *Axis {
	i := h.axisIndex(label)
	if i < 0 {
		return nil
	}
	return h.axes[i]
}

func (h *Histogram) axisIndex(label string) int {
	for i, ax := range h.axes {
		if ax.Label == label {
			return i
		}
	}
	return -1
}

// Copy returns a deep copy of the histogram.
func (h *Histogram) Copy() *Histogram {
	axes := make([]*Axis, len(h.axes))
	for i, ax := range h.axes {
		axes[i] = ax.Copy()
	}
	return &Histogram{axes: axes, Data: h.Data.Copy(), Units: h.Units}
}

// Project collapses all axes not listed in keep by linear summation,
// returning a histogram whose axes are ordered as requested.
func (h *Histogram) Project(keep ...string) (*Histogram, error) {
	if len(keep) == 0 {
		return nil, fmt.Errorf("batanalysis: projection must keep at least one axis")
	}
	keepIdx := make([]int, len(keep))
	for i, label := range keep {
		j := h.axisIndex(label)
		if j < 0 {
			return nil, fmt.Errorf("batanalysis: no axis labeled %s to project onto", label)
		}
		keepIdx[i] = j
	}
	outAxes := make([]*Axis, len(keep))
	dims := make([]int, len(keep))
	for i, j := range keepIdx {
		outAxes[i] = h.axes[j].Copy()
		dims[i] = h.axes[j].NBins()
	}
	out := sparse.ZerosDense(dims...)
	outIdx := make([]int, len(keep))
	for i1d, v := range h.Data.Elements {
		idx := h.Data.IndexNd(i1d)
		for i, j := range keepIdx {
			outIdx[i] = idx[j]
		}
		out.AddVal(v, outIdx...)
	}
	return &Histogram{axes: outAxes, Data: out, Units: h.Units}, nil
}

// SliceBin selects a single bin of the labeled axis, returning a
// histogram with the same axes where that axis has one bin.
func (h *Histogram) SliceBin(label string, bin int) (*Histogram, error) {
	j := h.axisIndex(label)
	if j < 0 {
		return nil, fmt.Errorf("batanalysis: no axis labeled %s to slice", label)
	}
	ax := h.axes[j]
	if bin < 0 || bin >= ax.NBins() {
		return nil, fmt.Errorf("batanalysis: bin %d is out of range for axis %s with %d bins",
			bin, label, ax.NBins())
	}
	outAxes := make([]*Axis, len(h.axes))
	dims := make([]int, len(h.axes))
	for i, a := range h.axes {
		outAxes[i] = a.Copy()
		dims[i] = a.NBins()
	}
	outAxes[j].Edges = []float64{ax.Edges[bin], ax.Edges[bin+1]}
	dims[j] = 1
	out := sparse.ZerosDense(dims...)
	for i1d, v := range h.Data.Elements {
		idx := h.Data.IndexNd(i1d)
		if idx[j] != bin {
			continue
		}
		idx[j] = 0
		out.Set(v, idx...)
	}
	return &Histogram{axes: outAxes, Data: out, Units: h.Units}, nil
}

// mapElements returns a copy of the histogram with f applied elementwise.
func (h *Histogram) mapElements(f func(float64) float64) *Histogram {
	out := h.Copy()
	for i, v := range out.Data.Elements {
		out.Data.Elements[i] = f(v)
	}
	return out
}
