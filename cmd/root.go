package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intelligrit/quakesafe/internal/config"
	"github.com/intelligrit/quakesafe/internal/logging"
)

var (
	dataDir    string
	verbose    bool
	configPath string
	envPath    string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "quakesafe",
	Short: "Assess how safe a location is during an earthquake and browse assessments on a map",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envPath); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if !cmd.Flags().Changed("data-dir") {
			dataDir = cfg.Data.Dir
		}

		logging.Setup(cfg.Log, verbose)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "Path to an optional .env file with secrets")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Directory for the assessment database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func Execute() error {
	return rootCmd.Execute()
}
