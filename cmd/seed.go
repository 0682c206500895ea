package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/registry"
)

type seedFacility struct {
	Name         string         `yaml:"name"`
	Lat          float64        `yaml:"lat"`
	Lon          float64        `yaml:"lon"`
	MaxOccupancy map[string]int `yaml:"max_occupancy"`
}

type seedFile struct {
	Facilities []seedFacility `yaml:"facilities"`
}

var seedPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register facilities from a YAML fixture",
	Long:  "Loads a facilities fixture and registers each entry. Registration is idempotent by name, so re-seeding never resets live occupancy.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		data, err := os.ReadFile(seedPath)
		if err != nil {
			return eris.Wrap(err, "seed: read fixture")
		}
		var fixture seedFile
		if err := yaml.Unmarshal(data, &fixture); err != nil {
			return eris.Wrap(err, "seed: parse fixture")
		}
		if len(fixture.Facilities) == 0 {
			return eris.Errorf("seed: fixture %s lists no facilities", seedPath)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "seed: migrate store")
		}

		reg := registry.New(st)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)

		for _, sf := range fixture.Facilities {
			g.Go(func() error {
				f, created, err := reg.Register(gctx, sf.Name,
					model.Occupancy(sf.MaxOccupancy),
					geo.Point{Lat: sf.Lat, Lon: sf.Lon})
				if err != nil {
					return eris.Wrapf(err, "seed: register %s", sf.Name)
				}
				zap.L().Info("seeded facility",
					zap.String("name", f.Name),
					zap.String("facility_id", f.ID.String()),
					zap.Bool("created", created),
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("seed complete", zap.Int("facilities", len(fixture.Facilities)))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPath, "file", "fixtures/garages.yaml", "path to facilities fixture")
	rootCmd.AddCommand(seedCmd)
}
