package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/ingest"
	"github.com/campus-mobility/parkwatch/internal/store"
)

var lprCmd = &cobra.Command{
	Use:   "lpr",
	Short: "Work with license plate recognition reads",
}

var (
	lprIngestCamera     string
	lprIngestPlate      string
	lprIngestState      string
	lprIngestLat        float64
	lprIngestLon        float64
	lprIngestConfidence int
	lprIngestAttributes string
	lprIngestReadAt     string
)

var lprIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record a plate read",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		in := ingest.ReadInput{
			CameraName: lprIngestCamera,
			Plate:      lprIngestPlate,
			Location:   geo.Point{Lat: lprIngestLat, Lon: lprIngestLon},
		}
		if lprIngestState != "" {
			in.State = &lprIngestState
		}
		if cmd.Flags().Changed("confidence") {
			in.ConfidenceScore = &lprIngestConfidence
		}
		if lprIngestAttributes != "" {
			in.Attributes = json.RawMessage(lprIngestAttributes)
		}
		if lprIngestReadAt != "" {
			readAt, err := time.Parse(time.RFC3339, lprIngestReadAt)
			if err != nil {
				return eris.Wrap(err, "lpr ingest: parse read-at")
			}
			in.ReadAt = readAt
		}

		read, err := ingest.New(st).Ingest(ctx, in)
		if err != nil {
			return eris.Wrap(err, "lpr ingest")
		}
		return printJSON(read)
	},
}

var (
	lprSearchPlate  string
	lprSearchCamera string
	lprSearchState  string
	lprSearchLimit  int
)

var lprSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored plate reads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reads, err := ingest.New(st).Find(ctx, store.ReadFilter{
			Plate:      lprSearchPlate,
			CameraName: lprSearchCamera,
			State:      lprSearchState,
			Limit:      lprSearchLimit,
		})
		if err != nil {
			return eris.Wrap(err, "lpr search")
		}
		return printJSON(reads)
	},
}

func init() {
	lprIngestCmd.Flags().StringVar(&lprIngestCamera, "camera", "", "camera name")
	lprIngestCmd.Flags().StringVar(&lprIngestPlate, "plate", "", "plate text")
	lprIngestCmd.Flags().StringVar(&lprIngestState, "state", "", "two-letter state code")
	lprIngestCmd.Flags().Float64Var(&lprIngestLat, "lat", 0, "read latitude")
	lprIngestCmd.Flags().Float64Var(&lprIngestLon, "lon", 0, "read longitude")
	lprIngestCmd.Flags().IntVar(&lprIngestConfidence, "confidence", 0, "recognition confidence score")
	lprIngestCmd.Flags().StringVar(&lprIngestAttributes, "attributes", "", "extra attributes as a JSON object")
	lprIngestCmd.Flags().StringVar(&lprIngestReadAt, "read-at", "", "observation time (RFC3339, default now)")
	_ = lprIngestCmd.MarkFlagRequired("camera")
	_ = lprIngestCmd.MarkFlagRequired("plate")
	_ = lprIngestCmd.MarkFlagRequired("lat")
	_ = lprIngestCmd.MarkFlagRequired("lon")

	lprSearchCmd.Flags().StringVar(&lprSearchPlate, "plate", "", "exact plate text")
	lprSearchCmd.Flags().StringVar(&lprSearchCamera, "camera", "", "exact camera name")
	lprSearchCmd.Flags().StringVar(&lprSearchState, "state", "", "exact state code")
	lprSearchCmd.Flags().IntVar(&lprSearchLimit, "limit", 0, "max results (default 100)")

	lprCmd.AddCommand(lprIngestCmd)
	lprCmd.AddCommand(lprSearchCmd)
	rootCmd.AddCommand(lprCmd)
}
