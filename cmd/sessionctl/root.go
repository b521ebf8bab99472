package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
)

// options holds the flags shared by every subcommand.
type options struct {
	redisAddr   string
	redisPrefix string
	storageDir  string
	logLevel    string

	providerBase string

	queueEnabled  bool
	queueInterval time.Duration

	defaultBackoff time.Duration
	maxBackoff     time.Duration
	expiryMargin   time.Duration
	maxAccounts    int
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	defaults := goSession.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Operate a goSession credential manager",
		Long: `sessionctl hosts a goSession manager for local testing.

Storage defaults to an in-process miniredis. Pass --redis-addr (or set
REDIS_ADDR) to use a real server, or --storage-dir for the file backend.`,
		SilenceUsage: true,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; falls back to REDIS_ADDR, then miniredis")
	fs.StringVar(&opts.redisPrefix, "redis-prefix", defaults.Session.RedisPrefix, "key prefix for account records")
	fs.StringVar(&opts.storageDir, "storage-dir", "", "store account records as JSON files in this directory instead of redis")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&opts.providerBase, "provider-url", "", "base URL of a provider speaking the mock route layout; empty uses the production endpoints")
	fs.BoolVar(&opts.queueEnabled, "queue", defaults.Queue.Enabled, "serialize provider exchanges through the auth queue")
	fs.DurationVar(&opts.queueInterval, "queue-interval", defaults.Queue.Interval, "delay between queued exchanges")
	fs.DurationVar(&opts.defaultBackoff, "default-backoff", defaults.RateLimit.DefaultBackoff, "backoff when a rate limit carries no Retry-After")
	fs.DurationVar(&opts.maxBackoff, "max-backoff", defaults.RateLimit.MaxBackoff, "upper bound for any Retry-After")
	fs.DurationVar(&opts.expiryMargin, "expiry-margin", defaults.Session.ExpirySafetyMargin, "treat sessions this close to expiry as stale")
	fs.IntVar(&opts.maxAccounts, "max-accounts", defaults.Session.MaxAccountsPerOwner, "linked accounts allowed per owner")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLoadtestCmd(opts))
	return cmd
}

// config applies the flags on top of the default configuration.
func (o *options) config() goSession.Config {
	cfg := goSession.DefaultConfig()
	if o.providerBase != "" {
		applyProviderBase(&cfg, o.providerBase)
	}
	cfg.Queue.Enabled = o.queueEnabled
	cfg.Queue.Interval = o.queueInterval
	cfg.RateLimit.DefaultBackoff = o.defaultBackoff
	cfg.RateLimit.MaxBackoff = o.maxBackoff
	cfg.Session.ExpirySafetyMargin = o.expiryMargin
	cfg.Session.MaxAccountsPerOwner = o.maxAccounts
	cfg.Session.RedisPrefix = o.redisPrefix
	cfg.Session.StorageDir = o.storageDir
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// applyProviderBase points every endpoint at base using the mock route layout.
func applyProviderBase(cfg *goSession.Config, base string) {
	base = strings.TrimRight(base, "/")
	cfg.Provider.AuthURL = base + mockAuthPath
	cfg.Provider.AuthorizeURL = base + mockAuthorizePath + "?client_id=" + cfg.Provider.ClientID
	cfg.Provider.UserInfoURL = base + mockUserInfoPath
	cfg.Provider.EntitlementsURL = base + mockEntitlementsPath
	cfg.Provider.RegionURL = base + mockRegionPath
}

func (o *options) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// redisClient returns nil when the file backend is selected.
func (o *options) redisClient(logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if o.storageDir != "" {
		return nil, func() {}, nil
	}

	addr := o.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.Info("using redis", slog.String("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info("using miniredis", slog.String("addr", mr.Addr()))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// build assembles a manager from the flags. The returned cleanup releases storage.
func (o *options) build(cfg goSession.Config, logger *slog.Logger, extra ...func(*goSession.Builder)) (*goSession.Manager, func(), error) {
	client, cleanup, err := o.redisClient(logger)
	if err != nil {
		return nil, nil, err
	}

	b := goSession.New().WithConfig(cfg).WithLogger(logger)
	if client != nil {
		b = b.WithRedis(client)
	}
	for _, fn := range extra {
		fn(b)
	}
	m, err := b.Build()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build manager: %w", err)
	}
	return m, cleanup, nil
}
