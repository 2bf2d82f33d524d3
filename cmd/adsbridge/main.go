// Command adsbridge runs the ads bridge abilities and drives bridge calls
// against them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/ability"
	"github.com/machinefabric/adsbridge-go/config"
	"github.com/machinefabric/adsbridge-go/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	appConfig *config.AppConfig
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adsbridge",
	Short: "Ads JS bridge: serve bridge abilities and send bridge calls",
	Long: `adsbridge relays method calls and ad responses between callers and
remote service extension abilities.

The ad service config (providerBundleName, providerJSAbilityName,
providerApiAbilityName, providerAbilityName) is looked up under the
configured roots; ability endpoints come from adsbridge.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadApp(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		appConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "adsbridge.yaml", "Path to adsbridge.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, invokeCmd, parseCmd, configCmd)
}

// endpointDirectory converts the configured endpoint keys to element names.
func endpointDirectory(cfg *config.AppConfig) (map[ability.ElementName]string, error) {
	out := make(map[ability.ElementName]string, len(cfg.Endpoints))
	for key, addr := range cfg.Endpoints {
		element, err := ability.ParseElementName(key)
		if err != nil {
			return nil, err
		}
		out[element] = addr
	}
	return out, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
