package main

import (
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/analytics"
	"github.com/lattice-intel/cdrscope/internal/model"
)

var (
	geoMinLng float64
	geoMinLat float64
	geoMaxLng float64
	geoMaxLat float64
	geoAccess string
)

var geoclusterCmd = &cobra.Command{
	Use:   "geocluster",
	Short: "Group session activity by cell site",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}
		window, err := queryWindow()
		if err != nil {
			return err
		}

		opts := analytics.GeoOptions{
			Window:     window,
			AccessType: model.AccessType(geoAccess),
		}
		if cmd.Flags().Changed("min-lng") || cmd.Flags().Changed("max-lng") {
			b := geom.NewBounds(geom.XY)
			b.SetCoords(geom.Coord{geoMinLng, geoMinLat}, geom.Coord{geoMaxLng, geoMaxLat})
			opts.Bounds = b
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		clusters, err := analytics.New(st).GeoClusters(ctx, opts)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		for _, c := range clusters {
			p.Fprintf(cmd.OutOrStdout(), "%-16s  (%9.4f, %9.4f)  %6d records  %4d suspicious\n",
				c.CellID, c.Center.Lat, c.Center.Lng, c.Records, c.Suspicious)
		}
		return nil
	},
}

func init() {
	geoclusterCmd.Flags().Float64Var(&geoMinLng, "min-lng", -180, "bounding box west edge")
	geoclusterCmd.Flags().Float64Var(&geoMinLat, "min-lat", -90, "bounding box south edge")
	geoclusterCmd.Flags().Float64Var(&geoMaxLng, "max-lng", 180, "bounding box east edge")
	geoclusterCmd.Flags().Float64Var(&geoMaxLat, "max-lat", 90, "bounding box north edge")
	geoclusterCmd.Flags().StringVar(&geoAccess, "access-type", "", "restrict to one access type (2G, 3G, 4G, 5G)")
	geoclusterCmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC3339)")
	geoclusterCmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC3339)")
	rootCmd.AddCommand(geoclusterCmd)
}
