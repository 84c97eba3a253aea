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

// Package batutil holds the command-line interface for working with
// BAT sky images.
package batutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	batanalysis "github.com/dmopalmer/BatAnalysis"
	"github.com/dmopalmer/BatAnalysis/heasoft"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to the commands.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "SkyImageFile",
			usage: `
              SkyImageFile is the path to the sky image FITS file to operate on.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{infoCmd.Flags(), projectCmd.Flags(), healpixCmd.Flags(), skyviewCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path the result is written to.`,
			shorthand:  "o",
			defaultVal: "output.nc",
			flagsets:   []*pflag.FlagSet{projectCmd.Flags(), healpixCmd.Flags()},
		},
		{
			name: "NSide",
			usage: `
              NSide is the HEALPix resolution parameter. It must be a
              power of 2.`,
			defaultVal: 128,
			flagsets:   []*pflag.FlagSet{healpixCmd.Flags()},
		},
		{
			name: "Frame",
			usage: `
              Frame is the coordinate frame of the HEALPix map, either
              'icrs' or 'galactic'.`,
			defaultVal: batanalysis.FrameICRS,
			flagsets:   []*pflag.FlagSet{healpixCmd.Flags()},
		},
		{
			name: "DPIFile",
			usage: `
              DPIFile is the detector plane image to create sky maps from.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "AttitudeFile",
			usage: `
              AttitudeFile is the spacecraft attitude history associated
              with the DPI.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "DetectorQualityFile",
			usage: `
              DetectorQualityFile masks disabled detectors. If empty, all
              detectors are assumed to be on.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "Recalc",
			usage: `
              Recalc forces the ground software to run even when the
              output sky image already exists.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "PartialCodingMap",
			usage: `
              PartialCodingMap specifies whether to also create a partial
              coding map.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "SNRMap",
			usage: `
              SNRMap specifies whether to also create a signal-to-noise map.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "BkgStdDevMap",
			usage: `
              BkgStdDevMap specifies whether to also create a background
              standard deviation map.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
		{
			name: "Heasoft.Params",
			usage: `
              Heasoft.Params overrides individual batfftimage parameters,
              as a mapping from parameter names to values.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{skyviewCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("BATANALYSIS")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := b.String()
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(infoCmd)
	Root.AddCommand(projectCmd)
	Root.AddCommand(healpixCmd)
	Root.AddCommand(skyviewCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("batanalysis: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "batanalysis",
	Short: "A toolkit for Swift-BAT sky image analysis.",
	Long: `batanalysis reads, rebins, reprojects and writes sky images produced
by the Swift-BAT imaging ground software.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'BATANALYSIS_var'
where 'var' is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of BatAnalysis.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("BatAnalysis v%s\n", batanalysis.Version)
	},
	DisableAutoGenTag: true,
}

// loadImage reads the sky image named by the SkyImageFile option.
func loadImage() (*batanalysis.SkyImage, error) {
	path := os.ExpandEnv(Cfg.GetString("SkyImageFile"))
	if path == "" {
		return nil, fmt.Errorf("batanalysis: you need to specify the sky image file " +
			"in the 'SkyImageFile' configuration variable")
	}
	return batanalysis.FromFile(path)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarize a sky image file.",
	Long:  `info prints the image type, geometry, energy binning and exposure of a sky image file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		si, err := loadImage()
		if err != nil {
			return err
		}
		cmd.Printf("type:     %v\n", si.Type)
		cmd.Printf("shape:    %v (%s)\n", si.Data.Shape, strings.Join(si.Labels(), " x "))
		cmd.Printf("exposure: %g s\n", si.Exposure())
		for _, b := range si.EBins.Index {
			cmd.Printf("energy bin %d: %g-%g keV\n", b, si.EBins.Min[b-1], si.EBins.Max[b-1])
		}
		if si.WCS != nil {
			ra, dec := si.WCS.PixToWorld(si.WCS.CRPix1-1, si.WCS.CRPix2-1)
			cmd.Printf("pointing: RA %.4f, Dec %.4f\n", ra, dec)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Collapse the energy axis of a sky image.",
	Long: `project collapses the energy axis of a sky image according to its
image type and writes the result to a NetCDF file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		si, err := loadImage()
		if err != nil {
			return err
		}
		out, err := si.CollapseEnergy()
		if err != nil {
			return err
		}
		return writeNetCDF(out, os.ExpandEnv(Cfg.GetString("OutputFile")))
	},
	DisableAutoGenTag: true,
}

var healpixCmd = &cobra.Command{
	Use:   "healpix",
	Short: "Reproject a sky image onto a HEALPix map.",
	Long: `healpix reprojects a sky image onto an all-sky HEALPix map in the
requested coordinate frame and writes the result to a NetCDF file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		si, err := loadImage()
		if err != nil {
			return err
		}
		hp, err := si.HealpixProjection(Cfg.GetString("Frame"), Cfg.GetInt("NSide"))
		if err != nil {
			return err
		}
		return writeNetCDF(hp, os.ExpandEnv(Cfg.GetString("OutputFile")))
	},
	DisableAutoGenTag: true,
}

var skyviewCmd = &cobra.Command{
	Use:   "skyview",
	Short: "Create sky maps from a detector plane image.",
	Long: `skyview runs the batfftimage ground-software tool to deconvolve a
detector plane image into a flux sky image, plus whichever auxiliary maps are
requested, and reports on the products.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sv, err := heasoft.NewSkyView(context.Background(), heasoft.SkyViewConfig{
			DPIFile:             os.ExpandEnv(Cfg.GetString("DPIFile")),
			SkyImageFile:        os.ExpandEnv(Cfg.GetString("SkyImageFile")),
			AttitudeFile:        os.ExpandEnv(Cfg.GetString("AttitudeFile")),
			DetectorQualityFile: os.ExpandEnv(Cfg.GetString("DetectorQualityFile")),

			CreatePartialCodingMap: Cfg.GetBool("PartialCodingMap"),
			CreateSNRMap:           Cfg.GetBool("SNRMap"),
			CreateBkgStdDevMap:     Cfg.GetBool("BkgStdDevMap"),

			Recalc: Cfg.GetBool("Recalc"),
			Params: GetStringMapString("Heasoft.Params", Cfg),
		})
		if err != nil {
			return err
		}
		cmd.Printf("sky image: %s (%v, %g s exposure)\n",
			sv.SkyImageFile, sv.Image.Type, sv.Image.Exposure())
		return nil
	},
	DisableAutoGenTag: true,
}

// GetStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a json object
// if it was set from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for GetStringMapString variable %s: %#v", varName, i))
	}
}

func writeNetCDF(si *batanalysis.SkyImage, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("batanalysis: creating %s: %v", path, err)
	}
	defer f.Close()
	return si.WriteNetCDF(f)
}
