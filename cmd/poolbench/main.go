package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiowebux/poolbench/internal/cli"
	"github.com/studiowebux/poolbench/internal/config"
	"github.com/studiowebux/poolbench/internal/stresstest"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "poolbench",
	Short: "Keep-alive connection pool load tester",
	Long: `poolbench fetches a list of resources over pools of persistent HTTP/1.1
connections and reports one CSV row per request on stdout.

Every iteration builds fresh pools, sends the same batch to each of them and
waits until all pools have drained. Failed requests are retried on the same
connection up to --retries times.

Examples:
  poolbench run --host esp.local --resources cats.txt
  poolbench run --http --port 8080 --poolcount 4 --poolsize 8 --count 10 > stats.csv
  poolbench run --config bench.yaml --metrics-addr :9090
  poolbench runs
  poolbench show 3 --records
  poolbench runs delete 3`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateRunFlags(cmd); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := cli.RunOptions{
			ConfigPath:  flagConfig,
			EnvFile:     flagEnvFile,
			DBPath:      flagDB,
			NoDB:        flagNoDB,
			MetricsAddr: flagMetricsAddr,
			LogLevel:    flagLogLevel,
			LogFormat:   flagLogFormat,
			OutputPath:  flagOutput,
			Overrides:   flagOverrides(cmd),
		}
		run, err := cli.Run(ctx, opts)
		if err != nil {
			return err
		}
		if run.Status == stresstest.StatusCancelled {
			return fmt.Errorf("run %d cancelled after %d iterations", run.ID, run.IterationsCompleted)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListRuns(os.Stdout, flagDB, flagLimit, flagFormat)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return cli.ShowRun(os.Stdout, flagDB, id, flagFormat, flagRecords)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run and its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return cli.DeleteRun(os.Stdout, flagDB, id, flagForce)
	},
}

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}

// Flags for run
var (
	flagConfig      string
	flagEnvFile     string
	flagNoDB        bool
	flagMetricsAddr string
	flagLogLevel    string
	flagLogFormat   string
	flagOutput      string

	flagCount     int
	flagHost      string
	flagHTTP      bool
	flagInsecure  bool
	flagPoolCount int
	flagPoolSize  int
	flagPort      int
	flagReqCount  int
	flagResources string
	flagRetries   int
	flagTimeout   int
	flagBackoff   time.Duration
	flagMethod    string
)

// Flags for runs/show/delete
var (
	flagDB      string
	flagLimit   int
	flagFormat  string
	flagRecords bool
	flagForce   bool
)

func init() {
	defaults := stresstest.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database (default ~/.poolbench/poolbench.db)")

	f := runCmd.Flags()
	f.StringVarP(&flagConfig, "config", "c", "", "YAML run configuration")
	f.StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file (default .env when present)")
	f.BoolVar(&flagNoDB, "no-db", false, "Do not store the run")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug/info/warn/error/off)")
	f.StringVar(&flagLogFormat, "log-format", "text", "Log format (text/json)")
	f.StringVarP(&flagOutput, "output", "o", "-", "CSV output file, - for stdout")

	f.IntVar(&flagCount, "count", defaults.Iterations, "Number of iterations")
	f.StringVar(&flagHost, "host", defaults.Host, "Target host")
	f.BoolVar(&flagHTTP, "http", false, "Use plain HTTP instead of HTTPS")
	f.BoolVar(&flagInsecure, "insecure", defaults.InsecureSkipVerify, "Skip TLS certificate verification")
	f.IntVar(&flagPoolCount, "poolcount", defaults.PoolCount, "Pools per iteration")
	f.IntVar(&flagPoolSize, "poolsize", defaults.PoolSize, "Connections per pool")
	f.IntVar(&flagPort, "port", defaults.Port, "Target port")
	f.IntVar(&flagReqCount, "reqcount", defaults.RequestsPerPool, "Requests per pool per iteration")
	f.StringVar(&flagResources, "resources", defaults.ResourcesFile, "File listing one resource path per line")
	f.IntVar(&flagRetries, "retries", defaults.MaxRetries, "Attempts per request before it is recorded as failed")
	f.IntVar(&flagTimeout, "timeout", defaults.TimeoutSec, "Socket timeout in seconds")
	f.DurationVar(&flagBackoff, "retry-backoff", 0, "Pause between attempts of a request")
	f.StringVar(&flagMethod, "method", defaults.Method, "HTTP method")

	runsCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Number of runs to list, 0 for all")
	runsCmd.Flags().StringVarP(&flagFormat, "format", "f", "text", "Output format (text/json/yaml)")
	showCmd.Flags().StringVarP(&flagFormat, "format", "f", "text", "Output format (text/json/yaml)")
	showCmd.Flags().BoolVar(&flagRecords, "records", false, "Also print the stored records as CSV")
	deleteCmd.Flags().BoolVar(&flagForce, "force", false, "Delete a run that never finished")

	runsCmd.AddCommand(deleteCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
}

// validateRunFlags rejects flag values that the config would read as defaults
func validateRunFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("timeout") && flagTimeout < 1 {
		return fmt.Errorf("--timeout must be at least 1 second, got %d", flagTimeout)
	}
	if cmd.Flags().Changed("retry-backoff") && flagBackoff < 0 {
		return fmt.Errorf("--retry-backoff must not be negative, got %s", flagBackoff)
	}
	return nil
}

// flagOverrides applies only the flags given on the command line, so the
// config file and the environment keep their values otherwise
func flagOverrides(cmd *cobra.Command) func(*stresstest.Config) {
	changed := cmd.Flags().Changed
	return func(c *stresstest.Config) {
		if changed("count") {
			c.Iterations = flagCount
		}
		if changed("host") {
			c.Host = flagHost
		}
		if changed("http") {
			c.HTTPS = !flagHTTP
			if !changed("port") && c.Port == 443 && flagHTTP {
				c.Port = 80
			}
		}
		if changed("insecure") {
			c.InsecureSkipVerify = flagInsecure
		}
		if changed("poolcount") {
			c.PoolCount = flagPoolCount
		}
		if changed("poolsize") {
			c.PoolSize = flagPoolSize
		}
		if changed("port") {
			c.Port = flagPort
		}
		if changed("reqcount") {
			c.RequestsPerPool = flagReqCount
		}
		if changed("resources") {
			c.ResourcesFile = flagResources
		}
		if changed("retries") {
			c.MaxRetries = flagRetries
		}
		if changed("timeout") {
			c.TimeoutSec = flagTimeout
		}
		if changed("retry-backoff") {
			c.RetryBackoffMs = int(flagBackoff / time.Millisecond)
		}
		if changed("method") {
			c.Method = flagMethod
		}
	}
}
