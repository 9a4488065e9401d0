package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgoldverg/blast/cli/output"
	"github.com/jgoldverg/blast/internal"
	"github.com/jgoldverg/blast/pkg/filestore"
	"github.com/jgoldverg/blast/pkg/metrics"
	"github.com/jgoldverg/blast/pkg/responder"
	"github.com/jgoldverg/blast/pkg/transport"
	"github.com/spf13/cobra"
)

type ServeOpts struct {
	ListenAddr  string
	RootDir     string
	MetricsAddr string
	Stats       bool
}

func ServeCommand() *cobra.Command {
	var opts ServeOpts

	cmd := &cobra.Command{
		Use:          "serve",
		Aliases:      []string{"s", "server"},
		Short:        "Serve files from a directory to blast clients",
		Long:         "Listen for file requests on a UDP port and serve one client at a time. Clients arriving during a transfer are queued and told their position.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadResponderConfig(getConfigPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load serve config: %w", err)
			}
			applyLogLevel(cmd, cfg.LogLevel)
			applyServeFlags(cmd, cfg, opts)
			return runServe(ctx, cfg, opts.Stats)
		},
	}

	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "UDP listen address (host:port)")
	cmd.Flags().StringVar(&opts.RootDir, "root", "", "Directory to serve files from")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Expose prometheus metrics on this TCP address")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "Print a transfer summary table on shutdown")
	return cmd
}

func applyServeFlags(cmd *cobra.Command, cfg *internal.ResponderConfig, opts ServeOpts) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = opts.ListenAddr
	}
	if flags.Changed("root") {
		cfg.RootDir = opts.RootDir
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
}

func runServe(ctx context.Context, cfg *internal.ResponderConfig, stats bool) error {
	files, err := filestore.NewLocal(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("open root directory: %w", err)
	}

	tr, err := transport.Listen(ctx, cfg.ListenAddr, transport.Options{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		DSCP:            cfg.DSCP,
	})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer tr.Close()

	collector := metrics.NewTransferCollector("")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, collector.Registry()); err != nil {
				internal.Error("metrics endpoint stopped", internal.Fields{
					internal.FieldAddr:  cfg.MetricsAddr,
					internal.FieldError: err.Error(),
				})
			}
		}()
	}

	r := responder.New(tr, files, responder.Config{
		FeedbackTimeout: cfg.FeedbackTimeout(),
		PollInterval:    cfg.PollInterval(),
		QueueLimit:      cfg.QueueLimit,
		QueueTTL:        cfg.QueueTTL(),
		MaxNackRounds:   cfg.MaxNackRounds,
	}, responder.WithMetrics(collector))

	internal.Info("blast server listening", internal.Fields{
		internal.FieldAddr: tr.LocalAddr().String(),
		"root":             files.Root(),
		"server_id":        cfg.ServerId,
		"metrics":          cfg.MetricsAddr,
	})

	err = r.Run(ctx)
	if stats {
		output.PrintSnapshot("Server Transfer Summary", collector.Snapshot())
	}
	if errors.Is(err, context.Canceled) {
		internal.Info("blast server stopped", nil)
		return nil
	}
	return err
}
