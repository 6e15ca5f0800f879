package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/services"
)

type dpiOptions struct {
	cropWidth   int
	cropHeight  int
	width       float64
	height      float64
	unit        string
	orientation string
}

type dpiReport struct {
	DPI       int    `json:"dpi"`
	DPIWidth  int    `json:"dpiWidth"`
	DPIHeight int    `json:"dpiHeight"`
	Defined   bool   `json:"defined"`
	Band      string `json:"band"`
}

// NewDPICommand creates the dpi command, which reports the limiting print resolution of a crop.
func NewDPICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dpiOptions{}
	cmd := &cobra.Command{
		Use:   "dpi",
		Short: "Compute the print resolution of a crop at a physical size",
		Example: `  fulfillctl dpi --crop-width 3000 --crop-height 2000 --width 300 --height 200 --unit mm
  fulfillctl dpi --crop-width 1200 --crop-height 1800 --width 8 --height 12 --unit in --orientation portrait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDPI(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().IntVar(&opts.cropWidth, "crop-width", 0, "crop width in pixels")
	cmd.Flags().IntVar(&opts.cropHeight, "crop-height", 0, "crop height in pixels")
	cmd.Flags().Float64Var(&opts.width, "width", 0, "printed width")
	cmd.Flags().Float64Var(&opts.height, "height", 0, "printed height")
	cmd.Flags().StringVar(&opts.unit, "unit", string(domain.UnitMillimetre), "length unit (mm|cm|in)")
	cmd.Flags().StringVar(&opts.orientation, "orientation", "", "landscape or portrait; empty keeps dimensions as given")
	return cmd
}

func runDPI(cmd *cobra.Command, rootOpts *RootOptions, opts *dpiOptions) error {
	orientation := domain.Orientation(strings.ToLower(strings.TrimSpace(opts.orientation)))
	switch orientation {
	case domain.OrientationUnspecified, domain.OrientationLandscape, domain.OrientationPortrait:
	default:
		return fmt.Errorf("invalid orientation %q", opts.orientation)
	}

	res := services.MappingResolution(domain.Assignment{
		Crop:        domain.CropRegion{Width: opts.cropWidth, Height: opts.cropHeight},
		Orientation: orientation,
		PrintSize: domain.PrintSize{
			Width:  opts.width,
			Height: opts.height,
			Unit:   domain.LengthUnit(strings.ToLower(strings.TrimSpace(opts.unit))),
		},
	})
	report := dpiReport{
		DPI:       res.DPI,
		DPIWidth:  res.DPIWidth,
		DPIHeight: res.DPIHeight,
		Defined:   res.Defined,
		Band:      string(res.Band),
	}
	return writeOutput(cmd.OutOrStdout(), rootOpts.Format, report, func(tw *tabwriter.Writer) {
		if !report.Defined {
			row(tw, "dpi", "undefined")
			return
		}
		row(tw, "dpi", report.DPI)
		row(tw, "width dpi", report.DPIWidth)
		row(tw, "height dpi", report.DPIHeight)
		row(tw, "band", report.Band)
	})
}
