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

package heasoft

import (
	"fmt"
	"os"
	"path/filepath"
)

// An Observation identifies one downloaded observation dataset: the
// observation ID and the directory holding its data.
type Observation struct {
	ID  string
	Dir string
}

// NewObservation locates the data directory for an observation ID
// under parent (the current directory when parent is empty) and checks
// that it exists.
func NewObservation(id, parent string) (*Observation, error) {
	if parent == "" {
		var err error
		if parent, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	dir := filepath.Join(parent, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("heasoft: the directory %s does not contain the observation data corresponding to ID %s",
			parent, id)
	}
	return &Observation{ID: id, Dir: dir}, nil
}
