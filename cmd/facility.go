package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/ledger"
	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/registry"
)

var facilityCmd = &cobra.Command{
	Use:   "facility",
	Short: "Manage parking facilities",
}

var (
	facilityRegisterLat      float64
	facilityRegisterLon      float64
	facilityRegisterCapacity map[string]int
)

var facilityRegisterCmd = &cobra.Command{
	Use:   "register NAME",
	Short: "Register a facility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		capacity := make(model.Occupancy, len(facilityRegisterCapacity))
		for category, count := range facilityRegisterCapacity {
			capacity[category] = count
		}

		f, created, err := registry.New(st).Register(ctx, args[0], capacity,
			geo.Point{Lat: facilityRegisterLat, Lon: facilityRegisterLon})
		if err != nil {
			return eris.Wrap(err, "facility register")
		}
		if !created {
			zap.L().Warn("facility already registered, left unchanged",
				zap.String("name", f.Name))
		}
		return printJSON(f)
	},
}

var facilityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered facilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		facilities, err := registry.New(st).List(ctx)
		if err != nil {
			return eris.Wrap(err, "facility list")
		}
		return printJSON(facilities)
	},
}

var (
	adjustCategory string
	adjustDelta    int
)

var facilityAdjustCmd = &cobra.Command{
	Use:   "adjust FACILITY_ID",
	Short: "Adjust a facility's occupancy count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "facility adjust: parse id")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		count, err := ledger.New(st).Adjust(ctx, id, adjustCategory, adjustDelta)
		if err != nil {
			return eris.Wrap(err, "facility adjust")
		}
		return printJSON(map[string]any{"category": adjustCategory, "count": count})
	},
}

var historyLimit int

var facilityHistoryCmd = &cobra.Command{
	Use:   "history FACILITY_ID",
	Short: "Show a facility's occupancy history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "facility history: parse id")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := ledger.New(st).History(ctx, id, historyLimit)
		if err != nil {
			return eris.Wrap(err, "facility history")
		}
		return printJSON(records)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	facilityRegisterCmd.Flags().Float64Var(&facilityRegisterLat, "lat", 0, "facility latitude")
	facilityRegisterCmd.Flags().Float64Var(&facilityRegisterLon, "lon", 0, "facility longitude")
	facilityRegisterCmd.Flags().StringToIntVar(&facilityRegisterCapacity, "capacity", nil, "per-category capacity, e.g. student=1440,faculty=230")
	_ = facilityRegisterCmd.MarkFlagRequired("lat")
	_ = facilityRegisterCmd.MarkFlagRequired("lon")

	facilityAdjustCmd.Flags().StringVar(&adjustCategory, "category", "", "occupancy category")
	facilityAdjustCmd.Flags().IntVar(&adjustDelta, "delta", 0, "signed occupancy change")
	_ = facilityAdjustCmd.MarkFlagRequired("category")
	_ = facilityAdjustCmd.MarkFlagRequired("delta")

	facilityHistoryCmd.Flags().IntVar(&historyLimit, "limit", 0, "max records (default 100)")

	facilityCmd.AddCommand(facilityRegisterCmd)
	facilityCmd.AddCommand(facilityListCmd)
	facilityCmd.AddCommand(facilityAdjustCmd)
	facilityCmd.AddCommand(facilityHistoryCmd)
	rootCmd.AddCommand(facilityCmd)
}
