package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/poolbench/internal/config"
	"github.com/studiowebux/poolbench/internal/logging"
	"github.com/studiowebux/poolbench/internal/metrics"
	"github.com/studiowebux/poolbench/internal/report"
	"github.com/studiowebux/poolbench/internal/resources"
	"github.com/studiowebux/poolbench/internal/stresstest"
	"github.com/studiowebux/poolbench/internal/types"
	"gopkg.in/yaml.v3"
)

// RunOptions contains options for a load test run
type RunOptions struct {
	ConfigPath  string // YAML run configuration, empty uses ~/.poolbench/config.yaml when present
	EnvFile     string // path to .env file
	DBPath      string // empty uses config.DatabasePath
	NoDB        bool
	MetricsAddr string // serve /metrics on this address while running
	LogLevel    string
	LogFormat   string // text, json
	OutputPath  string // CSV destination, empty or "-" for stdout

	// Overrides is applied after the file and the environment
	Overrides func(cfg *stresstest.Config)

	Stdout io.Writer
	Stderr io.Writer
}

// LoadRunConfig resolves the run configuration: defaults, then file, then
// POOLBENCH_* variables, then overrides.
func LoadRunConfig(opts RunOptions) (*stresstest.Config, error) {
	if err := config.LoadEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	path := opts.ConfigPath
	if path == "" && config.DefaultConfigExists() {
		path = config.ConfigFile
	}

	cfg := stresstest.DefaultConfig()
	if path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, err
		}
		loaded, err := stresstest.LoadConfig(expanded)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if opts.Overrides != nil {
		opts.Overrides(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Run executes a load test and writes its records as CSV
func Run(ctx context.Context, opts RunOptions) (*stresstest.Run, error) {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	log := logging.New(opts.LogLevel, opts.LogFormat, stderr)

	cfg, err := LoadRunConfig(opts)
	if err != nil {
		return nil, err
	}

	resourcePath, err := config.ExpandPath(cfg.ResourcesFile)
	if err != nil {
		return nil, err
	}
	resourceList, err := resources.Load(resourcePath)
	if err != nil {
		return nil, err
	}

	out := stdout
	if opts.OutputPath != "" && opts.OutputPath != "-" {
		f, err := os.Create(opts.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	csvWriter := report.NewCSVWriter(out)
	if err := csvWriter.WriteHeader(); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	sinks := []stresstest.Sink{csvWriter}

	if opts.MetricsAddr != "" {
		recorder := metrics.NewRecorder()
		sinks = append(sinks, recorder)

		serveCtx, stopServe := context.WithCancel(context.Background())
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := metrics.Serve(serveCtx, opts.MetricsAddr, recorder.Handler(), log); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		defer func() {
			stopServe()
			<-served
		}()
	}

	var manager *stresstest.Manager
	if !opts.NoDB {
		manager, err = openManager(opts.DBPath)
		if err != nil {
			return nil, err
		}
		defer manager.Close()
	}

	runner, err := stresstest.NewRunner(&stresstest.ExecutionConfig{
		Config:    cfg,
		Resources: resourceList,
		Sinks:     sinks,
		Logger:    log,
	}, manager)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"target":    cfg.Target(),
		"resources": len(resourceList),
		"pools":     cfg.PoolCount,
		"pool_size": cfg.PoolSize,
	}).Info("Starting run")

	if err := runner.Run(ctx); err != nil {
		return runner.GetRun(), err
	}

	run := runner.GetRun()
	fmt.Fprintln(stderr, formatSummary(run))
	return run, nil
}

// ListRuns prints the most recent stored runs
func ListRuns(w io.Writer, dbPath string, limit int, format string) error {
	manager, err := openManager(dbPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	runs, err := manager.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	switch format {
	case "json", "yaml":
		out, err := marshal(runs, format)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTARGET\tSTARTED\tSTATUS\tITER\tRECORDS\tFAILED\tP95(us)")
	for _, run := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\n",
			run.ID, run.Name, run.Target, run.StartedAt.Format(time.DateTime), run.Status,
			run.IterationsCompleted, run.Iterations, run.TotalRecords, run.TotalFailures, run.P95TimeDataUs)
	}
	return tw.Flush()
}

// ShowRun prints one stored run, optionally with its records as CSV
func ShowRun(w io.Writer, dbPath string, id int64, format string, withRecords bool) error {
	manager, err := openManager(dbPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	run, err := manager.GetRun(id)
	if err != nil {
		return err
	}

	switch format {
	case "json", "yaml":
		out, err := marshal(run, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
	default:
		fmt.Fprintln(w, formatSummary(run))
	}

	if !withRecords {
		return nil
	}
	records, err := manager.GetRecords(id)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	csvWriter := report.NewCSVWriter(w)
	if err := csvWriter.WriteHeader(); err != nil {
		return err
	}
	for _, rec := range records {
		if err := csvWriter.Write(rec.Iteration, []types.StatsRecord{rec.StatsRecord}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRun removes a stored run and its records. A run that never finished
// may still be written to by another process, so it needs force.
func DeleteRun(w io.Writer, dbPath string, id int64, force bool) error {
	manager, err := openManager(dbPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	run, err := manager.GetRun(id)
	if err != nil {
		return err
	}
	if run.IsRunning() && !force {
		return fmt.Errorf("run %d is still running, use --force to delete it anyway", id)
	}
	if err := manager.DeleteRun(id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Deleted run %d (%s)\n", run.ID, run.Name)
	return err
}

func openManager(dbPath string) (*stresstest.Manager, error) {
	if dbPath == "" {
		dbPath = config.DatabasePath
	}
	path, err := config.ExpandPath(dbPath)
	if err != nil {
		return nil, err
	}
	manager, err := stresstest.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return manager, nil
}

func marshal(v any, format string) (string, error) {
	if format == "yaml" {
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// formatSummary renders a run for humans
func formatSummary(run *stresstest.Run) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Run %d (%s) %s\n", run.ID, run.Name, run.Status))
	if !run.IsCompleted() {
		sb.WriteString("Unfinished: totals are only stored when a run ends\n")
	}
	sb.WriteString(fmt.Sprintf("Target: %s\n", run.Target))
	sb.WriteString(fmt.Sprintf("Iterations: %d/%d | Pools: %d x %d | Requests per pool: %d | Max retries: %d\n",
		run.IterationsCompleted, run.Iterations, run.PoolCount, run.PoolSize, run.RequestsPerPool, run.MaxRetries))

	successRate := 0.0
	if run.TotalRecords > 0 {
		successRate = float64(run.TotalRecords-run.TotalFailures) / float64(run.TotalRecords) * 100
	}
	sb.WriteString(fmt.Sprintf("Records: %d | Failed: %d | Retries: %d | Success: %.1f%%\n",
		run.TotalRecords, run.TotalFailures, run.TotalRetries, successRate))
	sb.WriteString(fmt.Sprintf("Transfer (us): avg %.0f | min %d | p50 %d | p95 %d | p99 %d | max %d\n",
		run.AvgTimeDataUs, run.MinTimeDataUs, run.P50TimeDataUs, run.P95TimeDataUs, run.P99TimeDataUs, run.MaxTimeDataUs))
	sb.WriteString(fmt.Sprintf("Host: cpu %.1f%% | mem %.1f%%", run.HostCPUPercent, run.HostMemPercent))

	return sb.String()
}
