package main

import (
	"fmt"
	"sort"

	"blitz-workers/pkg/registry"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the live endpoint catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [endpoints.yaml]",
	Short: "Validate the endpoint catalog and its schema docs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Catalog.EndpointsPath
		if len(args) == 1 {
			path = args[0]
		}
		catalog, err := registry.Load(path)
		if err != nil {
			return err
		}
		docs, err := registry.LoadSchemaDocs(cfg.Catalog.SchemaDir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		leagues := make([]string, 0, len(catalog.Leagues))
		for league := range catalog.Leagues {
			leagues = append(leagues, league)
		}
		sort.Strings(leagues)

		var missing []string
		for _, league := range leagues {
			endpoints := catalog.Endpoints(league)
			families := map[string]int{}
			for _, ep := range endpoints {
				families[ep.Family]++
			}
			fmt.Fprintf(out, "%s: %d endpoints across %d families\n", league, len(endpoints), len(families))
			if _, ok := docs.For(league); !ok {
				missing = append(missing, league)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("no schema docs for %v in %s", missing, cfg.Catalog.SchemaDir)
		}
		fmt.Fprintf(out, "%s is valid\n", path)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
}
