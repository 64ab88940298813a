package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/crayfishmap/internal/atlas"
	"github.com/MeKo-Tech/crayfishmap/internal/density"
	"github.com/MeKo-Tech/crayfishmap/internal/types"
	"github.com/spf13/viper"
)

// atlasConfig reads the map parameters shared by serve and export.
func atlasConfig() (atlas.Config, error) {
	cfg := atlas.DefaultConfig()

	res := viper.GetInt("resolution")
	if !density.ValidResolution(res) {
		return cfg, fmt.Errorf("invalid --resolution %d: must be between 0 and 15", res)
	}
	cfg.Resolution = res

	priority, err := types.ParseFitPriority(viper.GetString("fit-priority"))
	if err != nil {
		return cfg, fmt.Errorf("invalid --fit-priority: %w", err)
	}
	cfg.FitPriority = priority
	cfg.FitToDensity = viper.GetBool("fit-to-density")

	return cfg, nil
}
