package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "crayfishmap",
	Short: "Distribution maps for crayfish species",
	Long: `CrayfishMap turns georeferenced crayfish records and distribution overlays
into map documents for the World of Crayfish atlas.

Records are counted on an H3 hexagon grid and classified into density buckets.
Area of occupancy, extent of occurrence and river basin overlays are read from
the species catalog and used to fit the initial map view.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("db", "./records.db", "SQLite records database")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Species catalog directory (<Species>/maps/<Species>_AOO.geojson, ...)")
	rootCmd.PersistentFlags().String("output-dir", "./maps", "Output directory for exported maps")
	rootCmd.PersistentFlags().Int("resolution", 3, "H3 resolution of the density grid (0-15)")
	rootCmd.PersistentFlags().String("fit-priority", "basins,aoo,eoo", "Overlay order used to fit the map view")
	rootCmd.PersistentFlags().Bool("fit-to-density", false, "Fit to the density grid when no overlay is present")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	for _, name := range []string{"db", "data-dir", "output-dir", "resolution", "fit-priority", "fit-to-density", "log-level", "log-format", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("CRAYFISHMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
