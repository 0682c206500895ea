package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/proximity"
)

var (
	nearestLat float64
	nearestLon float64
	nearestK   int
)

var nearestCmd = &cobra.Command{
	Use:   "nearest",
	Short: "Find the facilities nearest to a coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		k := nearestK
		if k == 0 {
			k = cfg.Nearest.DefaultK
		}

		engine := proximity.New(st)
		results, err := engine.Nearest(ctx, geo.Point{Lat: nearestLat, Lon: nearestLon}, k)
		if err != nil {
			return eris.Wrap(err, "nearest")
		}
		return printJSON(results)
	},
}

func init() {
	nearestCmd.Flags().Float64Var(&nearestLat, "lat", 0, "query latitude")
	nearestCmd.Flags().Float64Var(&nearestLon, "lon", 0, "query longitude")
	nearestCmd.Flags().IntVar(&nearestK, "k", 0, "result count (default from config)")
	_ = nearestCmd.MarkFlagRequired("lat")
	_ = nearestCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(nearestCmd)
}
