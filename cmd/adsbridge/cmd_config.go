package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/machinefabric/adsbridge-go/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved ad service config",
	Long: `Locates the ad service config under the configured roots, the
extension file taking priority, and prints the keys it resolves to.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	locator := appConfig.Locator()
	for _, rel := range []string{config.ExtConfigFile, config.ConfigFile} {
		if path, err := locator.Locate(rel); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			break
		}
	}

	resolved := config.NewResolver(locator, logger).Resolve()
	if resolved == nil {
		return fmt.Errorf("no ad service config found under %v", appConfig.ConfigRoots)
	}
	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, resolved[k])
	}
	return nil
}
