package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/flowgraph/internal/nats"
	"github.com/wehubfusion/flowgraph/internal/tracing"
	"github.com/wehubfusion/flowgraph/pkg/checkpoint"
	"github.com/wehubfusion/flowgraph/pkg/checkpoint/azblob"
	"github.com/wehubfusion/flowgraph/pkg/checkpoint/sqlite"
	"github.com/wehubfusion/flowgraph/pkg/concurrency"
	eventsnats "github.com/wehubfusion/flowgraph/pkg/events/nats"
	"github.com/wehubfusion/flowgraph/pkg/reporting"
	"github.com/wehubfusion/flowgraph/pkg/runtime"
	"github.com/wehubfusion/flowgraph/pkg/tracker"
)

// Environment fallbacks for the integration flags.
const (
	envAzureConnection = "AZURE_STORAGE_CONNECTION_STRING"
	envSentryDSN       = "SENTRY_DSN"
)

type runFlags struct {
	file           string
	params         string
	mode           string
	timeout        time.Duration
	nodeTimeout    time.Duration
	validateInputs bool
	resume         string
	output         string

	checkpointDB        string
	checkpointContainer string
	azureConnection     string
	natsURL             string
	sentryDSN           string
	trace               bool
	stats               bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow and print its results",
		Long: "Execute a workflow definition. Runtime defaults come from FLOWGRAPH_* environment\n" +
			"variables; flags override them. Exits non-zero when the run fails.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, root, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.file, "file", "f", "", "Workflow definition (YAML or JSON)")
	f.StringVar(&flags.params, "params", "", "Per-node parameter overrides (YAML or JSON)")
	f.StringVar(&flags.mode, "mode", "", "Execution mode: sequential or parallel")
	f.DurationVar(&flags.timeout, "timeout", 0, "Run deadline")
	f.DurationVar(&flags.nodeTimeout, "node-timeout", 0, "Default per-node deadline")
	f.BoolVar(&flags.validateInputs, "validate-inputs", false, "Validate merged node inputs against their JSON schema")
	f.StringVar(&flags.resume, "resume", "", "Resume the run with this id from its latest checkpoint")
	f.StringVarP(&flags.output, "output", "o", "table", "Output format: table or json")
	f.StringVar(&flags.checkpointDB, "checkpoint-db", "", "SQLite file for checkpoints")
	f.StringVar(&flags.checkpointContainer, "checkpoint-container", "", "Azure Blob container for checkpoints")
	f.StringVar(&flags.azureConnection, "azure-connection-string", "", "Azure Storage connection string (default $"+envAzureConnection+")")
	f.StringVar(&flags.natsURL, "nats-url", "", "Publish lifecycle events to this NATS server (default $"+natsconn.EnvURL+")")
	f.StringVar(&flags.sentryDSN, "sentry-dsn", "", "Report failures to Sentry (default $"+envSentryDSN+")")
	f.BoolVar(&flags.trace, "trace", false, "Export spans over OTLP (see FLOWGRAPH_OTLP_ENDPOINT)")
	f.BoolVar(&flags.stats, "stats", false, "Print per node type execution counters (to stderr with -o json)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runRun(cmd *cobra.Command, root *rootFlags, flags *runFlags) error {
	if flags.output != "table" && flags.output != "json" {
		return fmt.Errorf("unsupported output format %q", flags.output)
	}
	ws, err := openWorkspace(root, flags.file)
	if err != nil {
		return err
	}
	defer ws.close()
	logger := ws.logger

	undo := concurrency.InitializeProcs(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	overrides, err := loadParams(flags.params)
	if err != nil {
		return err
	}

	cfg := runtime.ConfigFromEnv()
	fs := cmd.Flags()
	if fs.Changed("mode") {
		mode, err := concurrency.ParseExecutionMode(flags.mode)
		if err != nil {
			return err
		}
		cfg.ExecutionMode = mode
	}
	if fs.Changed("timeout") {
		cfg.RunTimeout = flags.timeout
	}
	if fs.Changed("node-timeout") {
		cfg.NodeTimeout = flags.nodeTimeout
	}
	if fs.Changed("validate-inputs") {
		cfg.ValidateInputs = flags.validateInputs
	}
	opts := []runtime.Option{runtime.WithConfig(cfg), runtime.WithLogger(logger)}

	if flags.trace {
		traceCfg := tracing.ConfigFromEnv("flowgraph")
		traceCfg.ServiceVersion = version
		tp, err := tracing.Setup(ctx, traceCfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = tp.Close() }()
		opts = append(opts, runtime.WithTracerProvider(tp))
	}

	store, closeStore, err := openCheckpointStore(flags, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		opts = append(opts, runtime.WithCheckpointStore(store))
	} else if flags.resume != "" {
		return fmt.Errorf("--resume needs a checkpoint store (--checkpoint-db or --checkpoint-container)")
	}

	connCfg := natsconn.ConfigFromEnv()
	if flags.natsURL != "" {
		connCfg.URL = flags.natsURL
	}
	if connCfg.URL != "" {
		conn, err := natsconn.Connect(ctx, connCfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = natsconn.Close(conn) }()
		opts = append(opts, runtime.WithPublisher(eventsnats.NewPublisherFromConfig(conn, connCfg, logger)))
	}

	if dsn := envOr(flags.sentryDSN, envSentryDSN); dsn != "" {
		reporter, err := reporting.NewSentryReporter(sentry.ClientOptions{Dsn: dsn, Release: version}, logger)
		if err != nil {
			return fmt.Errorf("create sentry reporter: %w", err)
		}
		defer reporter.Flush()
		opts = append(opts, runtime.WithReporter(reporter))
	}

	counters := runtime.NewCounters()
	opts = append(opts, runtime.WithMetrics(counters))

	rt, err := runtime.New(ws.registry, opts...)
	if err != nil {
		return err
	}

	runID := flags.resume
	var runErr error
	if runID != "" {
		_, runErr = rt.Resume(ctx, ws.graph, runID, overrides)
	} else {
		_, runID, runErr = rt.Execute(ctx, ws.graph, overrides)
	}

	record, err := rt.Tracker().Get(runID)
	if err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	if err := render(cmd.OutOrStdout(), flags.output, record); err != nil {
		return err
	}
	if flags.stats {
		statsOut := cmd.OutOrStdout()
		if flags.output == "json" {
			statsOut = cmd.ErrOrStderr()
		}
		renderStats(statsOut, counters.Snapshot())
	}
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", runID, runErr)
	}
	return nil
}

func openCheckpointStore(flags *runFlags, logger *zap.Logger) (checkpoint.Store, func(), error) {
	switch {
	case flags.checkpointDB != "" && flags.checkpointContainer != "":
		return nil, nil, errors.New("choose one of --checkpoint-db and --checkpoint-container")
	case flags.checkpointDB != "":
		store, err := sqlite.Open(flags.checkpointDB)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case flags.checkpointContainer != "":
		conn := envOr(flags.azureConnection, envAzureConnection)
		if conn == "" {
			return nil, nil, fmt.Errorf("--checkpoint-container needs --azure-connection-string or $%s", envAzureConnection)
		}
		store, err := azblob.New(conn, flags.checkpointContainer, azblob.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
	return nil, func() {}, nil
}

type runReport struct {
	RunID      string            `json:"run_id"`
	Workflow   string            `json:"workflow"`
	Status     tracker.Status    `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	Results    tracker.Results   `json:"results"`
	FailedNode string            `json:"failed_node,omitempty"`
	Error      string            `json:"error,omitempty"`
	Skipped    map[string]string `json:"skipped,omitempty"`
	Iterations map[string]int    `json:"iterations,omitempty"`
	Recovered  map[string]string `json:"recovered,omitempty"`
}

func render(out io.Writer, format string, rec tracker.RunRecord) error {
	report := runReport{
		RunID:      rec.RunID,
		Workflow:   rec.Workflow,
		Status:     rec.Status,
		DurationMs: rec.Duration().Milliseconds(),
		Results:    rec.Results,
		FailedNode: rec.FailedNode,
		Skipped:    rec.Skipped,
		Iterations: rec.Iterations,
		Recovered:  rec.Recovered,
	}
	if rec.Err != nil {
		report.Error = rec.Err.Error()
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	t := newTable(out, "Node", "Key", "Value")
	for _, id := range sortedKeys(rec.Results) {
		output := rec.Results[id]
		if len(output) == 0 {
			t.AppendRow([]any{id, "", ""})
			continue
		}
		for _, key := range sortedKeys(output) {
			t.AppendRow([]any{id, key, compact(output[key])})
		}
	}
	t.Render()

	if len(rec.Skipped) > 0 || len(rec.Iterations) > 0 || len(rec.Recovered) > 0 {
		dt := newTable(out, "Kind", "Target", "Detail")
		for _, id := range sortedKeys(rec.Skipped) {
			dt.AppendRow([]any{"skipped", id, rec.Skipped[id]})
		}
		for _, id := range sortedKeys(rec.Iterations) {
			dt.AppendRow([]any{"iterations", id, rec.Iterations[id]})
		}
		for _, id := range sortedKeys(rec.Recovered) {
			dt.AppendRow([]any{"recovered", id, rec.Recovered[id]})
		}
		dt.Render()
	}

	fmt.Fprintf(out, "Run %s %s in %s\n", rec.RunID, rec.Status, time.Duration(report.DurationMs)*time.Millisecond)
	if rec.Err != nil {
		fmt.Fprintf(out, "Failed at %s: %v\n", rec.FailedNode, rec.Err)
	}
	return nil
}


func renderStats(out io.Writer, m runtime.Metrics) {
	t := newTable(out, "Type", "Succeeded", "Failed", "Skipped", "Retries", "Mean")
	for _, name := range m.Types() {
		s := m.ByType[name]
		t.AppendRow([]any{name, s.Succeeded, s.Failed, s.Skipped, s.Retries, s.Mean()})
	}
	total := m.Totals()
	t.AppendFooter([]any{"total", total.Succeeded, total.Failed, total.Skipped, total.Retries, total.Mean()})
	t.Render()
	if m.Iterations > 0 {
		fmt.Fprintf(out, "Cycle iterations: %d\n", m.Iterations)
	}
}
