package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/tokengate/metrics"
	"github.com/yourusername/tokengate/notify"
	"github.com/yourusername/tokengate/pkg/tokengate"
)

type globalFlags struct {
	configPath   string
	logLevel     string
	metricsAddr  string
	redisAddr    string
	redisChannel string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "tokengate",
		Short:        "Per-identifier token bucket admission control",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML configuration file (TOKENGATE_* env vars override it)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	root.PersistentFlags().StringVar(&flags.redisAddr, "redis-addr", "", "publish denial events to this Redis server")
	root.PersistentFlags().StringVar(&flags.redisChannel, "redis-channel", notify.DefaultChannel, "Redis channel for denial events")

	root.AddCommand(replayCmd(flags))
	root.AddCommand(checkCmd(flags))
	return root
}

func newLogger(level string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}

func loadConfig(path string) (tokengate.Config, error) {
	cfg := tokengate.NewConfig()
	if path != "" {
		var err error
		if cfg, err = tokengate.LoadConfigFile(path); err != nil {
			return tokengate.Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return tokengate.Config{}, err
	}
	return cfg, cfg.Validate()
}

// runtime bundles a controller with its optional metrics server and publisher
type runtime struct {
	ctrl      *tokengate.Controller
	metrics   *metrics.Metrics
	publisher *notify.RedisPublisher
	server    *http.Server
	logger    zerolog.Logger
}

func setup(ctx context.Context, flags *globalFlags) (*runtime, error) {
	logger, err := newLogger(flags.logLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger, metrics: metrics.NewMetrics("tokengate")}
	opts := []tokengate.Option{
		tokengate.WithLogger(logger),
		tokengate.WithObserver(rt.metrics),
	}

	if flags.redisAddr != "" {
		rt.publisher = notify.NewRedisPublisher(notify.RedisConfig{
			Addr:    flags.redisAddr,
			Channel: flags.redisChannel,
		}, logger)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rt.publisher.Ping(pingCtx); err != nil {
			_ = rt.publisher.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", flags.redisAddr, err)
		}
		logger.Info().Str("addr", flags.redisAddr).Msg("publishing denial events")
		opts = append(opts, tokengate.WithObserver(rt.publisher))
	}

	rt.ctrl, err = tokengate.New(cfg, opts...)
	if err != nil {
		if rt.publisher != nil {
			_ = rt.publisher.Close()
		}
		return nil, err
	}

	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := rt.metrics.Register(reg); err != nil {
			rt.close()
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		rt.server = &http.Server{Addr: flags.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return rt, nil
}

// run executes work while serving metrics, then shuts everything down.
func (rt *runtime) run(ctx context.Context, work func(context.Context) error) error {
	defer rt.close()

	if rt.server == nil {
		return work(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	workDone := make(chan struct{})

	g.Go(func() error {
		rt.logger.Info().Str("addr", rt.server.Addr).Msg("serving metrics")
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-workDone:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer close(workDone)
		return work(gctx)
	})

	return g.Wait()
}

func (rt *runtime) close() {
	rt.ctrl.Shutdown()
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("closing publisher")
		}
		st := rt.publisher.Stats()
		rt.logger.Info().Int64("published", st.Published).Int64("dropped", st.Dropped).
			Int64("failed", st.Failed).Msg("publisher closed")
	}
}
