package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"frontier/internal/config"
	"frontier/internal/data"
	"frontier/internal/logger"
	"frontier/internal/storage"
)

var cfg *config.Config

// rootCmd is the base command for the frontier CLI
var rootCmd = &cobra.Command{
	Use:   "frontier",
	Short: "Markowitz mean-variance portfolio optimizer",
	Long: `frontier downloads daily price history, estimates annualized returns and
covariances, and finds the maximum Sharpe, minimum volatility and efficient
frontier portfolios. Settings come from FRONTIER_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		logger.Init(cfg.Level, cfg.Pretty)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newPriceCache picks Redis when an address is configured and the
// in-process cache otherwise.
func newPriceCache(ctx context.Context) (data.Cache, func(), error) {
	if cfg.RedisAddr == "" {
		return data.NewMemoryCache(cfg.TTL), func() {}, nil
	}
	rc, err := data.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis price cache")
	return rc, func() { rc.Close() }, nil
}

func newFetcher(ctx context.Context, observer data.CacheObserver) (*data.CachedFetcher, func(), error) {
	cache, closeCache, err := newPriceCache(ctx)
	if err != nil {
		return nil, nil, err
	}
	yahoo := data.NewYahooClient(
		data.WithTimeout(cfg.Timeout),
		data.WithRateLimit(cfg.RequestsPerSecond),
	)
	return data.NewCachedFetcher(yahoo, cache, observer, cfg.Concurrency), closeCache, nil
}

func openStore(ctx context.Context) (*storage.Store, error) {
	st, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("run history %s: %w", cfg.DBPath, err)
	}
	return st, nil
}
