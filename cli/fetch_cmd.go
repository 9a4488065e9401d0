package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/jgoldverg/blast/cli/output"
	"github.com/jgoldverg/blast/internal"
	"github.com/jgoldverg/blast/pkg/filestore"
	"github.com/jgoldverg/blast/pkg/metrics"
	"github.com/jgoldverg/blast/pkg/requester"
	"github.com/jgoldverg/blast/pkg/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FetchTarget is a parsed @host:port/filename argument.
type FetchTarget struct {
	Host     string
	Port     string
	Filename string
}

func (t FetchTarget) Server() string { return net.JoinHostPort(t.Host, t.Port) }

func (t FetchTarget) String() string { return "@" + t.Server() + "/" + t.Filename }

var targetRe = regexp.MustCompile(`^@?(\[[^\]]+\]|[^/\s\[\]]+):(\d{1,5})/(.+)$`)

func parseFetchTarget(input string) (FetchTarget, error) {
	trimmed := strings.TrimSpace(input)
	m := targetRe.FindStringSubmatch(trimmed)
	if m == nil {
		return FetchTarget{}, fmt.Errorf("invalid target %q: expected @IP:Port/filename", input)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(m[1], "["), "]")
	filename := strings.TrimLeft(strings.TrimSpace(m[3]), "/")
	if filename == "" {
		return FetchTarget{}, fmt.Errorf("invalid target %q: missing filename", input)
	}
	return FetchTarget{Host: host, Port: m[2], Filename: filename}, nil
}

// dropFlag is a --drop 1,3,5 flag value.
type dropFlag struct {
	set requester.DropSet
}

var _ pflag.Value = (*dropFlag)(nil)

func (f *dropFlag) String() string {
	if f == nil || f.set == nil {
		return ""
	}
	return f.set.String()
}

func (f *dropFlag) Set(s string) error {
	set, err := requester.ParseDropSet(s)
	if err != nil {
		return err
	}
	if f.set == nil {
		f.set = requester.DropSet{}
	}
	for seq := range set {
		f.set[seq] = struct{}{}
	}
	return nil
}

func (f *dropFlag) Type() string { return "seqs" }

// DropSet returns a fresh copy so every fetch consumes its own set.
func (f *dropFlag) DropSet() requester.DropSet { return cloneDropSet(f.set) }

type FetchOpts struct {
	Drop      dropFlag
	OutputDir string
	PlanPath  string
	Quiet     bool
	Stats     bool
}

func FetchCommand() *cobra.Command {
	var opts FetchOpts

	cmd := &cobra.Command{
		Use:          "fetch @IP:Port/filename",
		Aliases:      []string{"f", "get"},
		Short:        "Fetch a file from a blast server",
		Long:         "Request a file from a blast server, recover lost segments with NACKs, verify the MD5 digest and store it as received_<name>.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadRequesterConfig(getConfigPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load fetch config: %w", err)
			}
			applyLogLevel(cmd, cfg.LogLevel)
			if cmd.Flags().Changed("output-dir") {
				cfg.OutputDir = opts.OutputDir
			}

			jobs, err := fetchJobs(args, opts)
			if err != nil {
				return err
			}
			return runFetches(ctx, cfg, jobs, opts)
		},
	}

	cmd.Flags().Var(&opts.Drop, "drop", "Segment numbers to drop once on arrival, e.g. 1,3 (testing aid)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "Directory to store fetched files in")
	cmd.Flags().StringVar(&opts.PlanPath, "plan", "", "YAML or JSON file listing files to fetch")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "Print a transfer summary table when done")
	return cmd
}

type fetchJob struct {
	Target    FetchTarget
	Drop      requester.DropSet
	OutputDir string
}

func fetchJobs(args []string, opts FetchOpts) ([]fetchJob, error) {
	switch {
	case opts.PlanPath != "" && len(args) > 0:
		return nil, fmt.Errorf("pass either a target or --plan, not both")
	case opts.PlanPath != "":
		doc, err := loadFetchPlan(opts.PlanPath)
		if err != nil {
			return nil, err
		}
		return doc.jobs()
	case len(args) == 1:
		target, err := parseFetchTarget(args[0])
		if err != nil {
			return nil, err
		}
		return []fetchJob{{Target: target, Drop: opts.Drop.DropSet()}}, nil
	default:
		return nil, fmt.Errorf("a target (@IP:Port/filename) or --plan is required")
	}
}

func runFetches(ctx context.Context, cfg *internal.RequesterConfig, jobs []fetchJob, opts FetchOpts) error {
	printer := output.NewPrinter()
	collector := metrics.NewTransferCollector("")
	failed := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := fetchOne(ctx, cfg, job, collector, opts.Quiet)
		if err != nil {
			failed++
			printer.Error("Fetch failed", map[string]any{
				"target": job.Target.String(),
				"error":  err.Error(),
			})
			continue
		}
		printer.Result(res)
	}
	if opts.Stats {
		output.PrintSnapshot("Fetch Summary", collector.Snapshot())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(jobs))
	}
	return nil
}

func fetchOne(ctx context.Context, cfg *internal.RequesterConfig, job fetchJob, collector *metrics.TransferCollector, quiet bool) (*requester.Result, error) {
	outDir := cfg.OutputDir
	if job.OutputDir != "" {
		outDir = job.OutputDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out, err := filestore.NewLocal(outDir)
	if err != nil {
		return nil, err
	}

	tr, server, err := transport.Dial(ctx, job.Target.Server(), transport.Options{
		ReadBufferSize: cfg.ReadBufferSize,
		DSCP:           cfg.DSCP,
	})
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	progress := output.NewSegmentProgress(job.Target.Filename)
	if quiet {
		progress = nil
	}
	defer progress.Stop()

	req := requester.New(tr, server, out, requester.Config{
		InfoTimeout:         cfg.InfoTimeout(),
		QueueTimeout:        cfg.QueueTimeout(),
		BurstTimeout:        cfg.BurstTimeout(),
		MaxNoProgressRounds: cfg.MaxNoProgressRounds,
		NackBatchSize:       cfg.NackBatchSize,
		OutputPrefix:        cfg.OutputPrefix,
	},
		requester.WithDropSet(job.Drop),
		requester.WithMetrics(collector),
		requester.WithCallbacks(progress.Callbacks()),
	)

	internal.Debug("fetching", internal.Fields{
		internal.FieldPeer: server.String(),
		internal.FieldFile: job.Target.Filename,
		"drop":             job.Drop.String(),
	})
	return req.Fetch(ctx, job.Target.Filename)
}
