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

// Package heasoft invokes the BAT ground-software command-line tools.
// Every invocation is synchronous and single shot: a nonzero exit
// status is surfaced immediately as an error carrying the tool output,
// and nothing is retried.
package heasoft

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Default parameters for the tools this package drives. The ground
// software treats the string NONE as an unset file parameter.
var defaultParams = map[string]map[string]string{
	"batfftimage": {
		"infile":    "NONE",
		"outfile":   "NONE",
		"attitude":  "NONE",
		"detmask":   "NONE",
		"bkgvarmap": "NONE",
		"signifmap": "NONE",
		"pcodemap":  "NO",
		"clobber":   "YES",
	},
	"batbinevt": {
		"infile":     "NONE",
		"outfile":    "NONE",
		"outtype":    "LC",
		"timedel":    "1.0",
		"timebinalg": "uniform",
		"energybins": "15-350",
		"clobber":    "YES",
	},
	"bathotpix": {
		"infile":  "NONE",
		"outfile": "NONE",
		"clobber": "YES",
	},
	"batmaskwtevt": {
		"infile":   "NONE",
		"attitude": "NONE",
		"ra":       "0.0",
		"dec":      "0.0",
		"clobber":  "YES",
	},
	"bateconvert": {
		"infile":        "NONE",
		"calfile":       "NONE",
		"residfile":     "NONE",
		"pulserfile":    "NONE",
		"fltpulserfile": "NONE",
		"clobber":       "YES",
	},
}

// DefaultParams returns a copy of the default parameter mapping for a
// tool, or an empty mapping for an unknown tool.
func DefaultParams(tool string) map[string]string {
	p := make(map[string]string)
	for k, v := range defaultParams[tool] {
		p[k] = v
	}
	return p
}

// A Task is one invocation of a ground-software tool with a named
// parameter mapping.
type Task struct {
	// Name is the tool binary, e.g. "batfftimage".
	Name string
	// Params maps parameter names to values; they are passed to the
	// tool as name=value arguments.
	Params map[string]string
	// Dir is the working directory; empty means the current directory.
	Dir string
}

// NewTask creates a task preloaded with the tool's default parameters.
func NewTask(name string) *Task {
	return &Task{Name: name, Params: DefaultParams(name)}
}

// Set assigns one parameter.
func (t *Task) Set(name, value string) { t.Params[name] = value }

// Args returns the tool's argument list, sorted for reproducibility.
func (t *Task) Args() []string {
	args := make([]string, 0, len(t.Params))
	for k, v := range t.Params {
		args = append(args, k+"="+v)
	}
	sort.Strings(args)
	return args
}

// Run invokes the tool and returns its combined output. A nonzero exit
// status is fatal; the returned error carries the tool's output.
func (t *Task) Run(ctx context.Context) (string, error) {
	args := t.Args()
	log.WithFields(log.Fields{"tool": t.Name, "args": strings.Join(args, " ")}).
		Info("running ground-software tool")
	cmd := exec.CommandContext(ctx, t.Name, args...)
	cmd.Dir = t.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("heasoft: the call to %s failed: %v: %s", t.Name, err, out)
	}
	return string(out), nil
}
