package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"frontier/internal/api"
	"frontier/internal/data"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and static web UI",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	universes, err := data.LoadUniverses(cfg.UniverseFile)
	if err != nil {
		return err
	}

	metrics := api.NewMetrics()
	fetcher, closeCache, err := newFetcher(ctx, metrics)
	if err != nil {
		return err
	}
	defer closeCache()

	var store api.RunStore
	if cfg.DBPath != "" {
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		store = st
	} else {
		log.Warn().Msg("FRONTIER_DB_PATH is empty, run history disabled")
	}

	return api.NewServer(cfg, fetcher, store, universes, metrics).Run(ctx)
}
