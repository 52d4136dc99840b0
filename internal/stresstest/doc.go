/*
Package stresstest drives load test runs on top of the connection pools.

# Overview

A run repeats an iteration a configured number of times:
  - build PoolCount pools of PoolSize connections each
  - submit the same batch of RequestsPerPool requests to every pool,
    cycling through the resource list
  - wait for every pool to drain
  - hand the records, pool by pool, to every Sink
  - destroy the pools

Pools are rebuilt per iteration, so every iteration starts with cold sessions.

# Components

 1. Config (config.go): run configuration, YAML loading and POOLBENCH_* overrides
 2. Runner (runner.go): iteration driver
 3. Stats (stats.go): summary over StatsRecords
 4. Manager (manager.go): SQLite persistence of runs and records

# Statistics

Timings are microseconds. Only successful records contribute to the transfer
time figures:
  - Min/max/average TimeData
  - Percentiles (P50, P95, P99)
  - Success, failure and retry counts

# Database Schema

SQLite database stores:
  - bench_runs: one row per run with its summary
  - bench_records: every StatsRecord with its iteration

# Example Usage

	manager, err := NewManager("poolbench.db")
	if err != nil {
		return err
	}
	defer manager.Close()

	cfg := DefaultConfig()
	cfg.Host = "esp.local"
	cfg.Iterations = 10

	runner, err := NewRunner(&ExecutionConfig{
		Config:    cfg,
		Resources: []string{"/cats/1.jpg", "/cats/2.jpg"},
		Sinks:     []Sink{report.NewCSVWriter(os.Stdout)},
	}, manager)
	if err != nil {
		return err
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}
	run := runner.GetRun()
	fmt.Printf("P95 transfer time: %dus\n", run.P95TimeDataUs)

# Cancellation

Cancelling the context stops the run between iterations. The iteration in
flight completes before its pools are released, and the run is stored with
status "cancelled".
*/
package stresstest
