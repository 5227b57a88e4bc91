// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// nanort_bench runs one of the built-in programs many times, concurrently, and reports the timings.
//
// Example:
//
//	$ nanort_bench -program=saxpy -n=10000 -size=4096 -config="parallelism=8"
//
// The configuration defaults to the value of $NANORT_CONFIG, see nanort.ParseConfig.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/nanort/backends/nanort"
	"github.com/gomlx/nanort/pkg/core/async"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagProgram = flag.String("program", "saxpy",
		fmt.Sprintf("Built-in program to run, one of %s.", strings.Join(programNames(), ", ")))
	flagPlan = flag.String("plan", "", "YAML file with a buffer assignment. If set, a copy program "+
		"using this assignment is run instead of --program.")
	flagNumExecutions = flag.Int("n", 1000, "Number of executions.")
	flagSize          = flag.Int("size", 1024, "Number of float32 elements of the arguments of the built-in programs.")
	flagConfig        = flag.String("config", "", "nanort configuration, e.g. \"parallelism=4,sizes=bound\". "+
		"If empty, $"+nanort.ConfigEnv+" is used.")
	flagMaxInFlight = flag.Int("max_in_flight", 256, "Maximum number of executions in flight: each one holds "+
		"its own results and temp buffers. Set to 0 for no limit.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNumExecutions <= 0 {
		klog.Errorf("Invalid -n=%d, it must be > 0", *flagNumExecutions)
		os.Exit(1)
	}

	var cfg nanort.Config
	if *flagConfig != "" {
		cfg = must.M1(nanort.ParseConfig(*flagConfig))
	} else {
		cfg = must.M1(nanort.ConfigFromEnv())
	}
	program := must.M1(buildProgram(*flagProgram, *flagPlan, *flagSize))
	pool := nanort.NewPool(cfg)
	exec := must.M1(nanort.CreateWithConfig(program, pool, cfg))
	klog.V(1).Infof("Running %s on %d executions", exec, *flagNumExecutions)

	stats := benchmark(exec, *flagNumExecutions, *flagMaxInFlight, *flagProgress)
	exec.Finalize()
	fmt.Println(report(exec, cfg, stats))
	if stats.numFailures > 0 {
		os.Exit(1)
	}
}

// benchStats collected by benchmark.
type benchStats struct {
	wallTime      time.Duration
	latencies     []time.Duration
	numFailures   int
	firstFailure  error
	bytesPerExec  int
	maxInFlight   int
	numExecutions int
}

// benchmark runs numExecutions of exec, with at most maxInFlight at a time.
func benchmark(exec *nanort.Executable, numExecutions, maxInFlight int, withProgress bool) *benchStats {
	table := exec.AllocationTable()
	arguments := newArguments(table)
	stats := &benchStats{
		latencies:     make([]time.Duration, numExecutions),
		numExecutions: numExecutions,
		bytesPerExec:  viewsBytes(table),
	}

	var bar *progressbar.ProgressBar
	if withProgress {
		output := termenv.NewOutput(os.Stdout)
		output.HideCursor()
		defer output.ShowCursor()
		bar = progressbar.NewOptions(numExecutions,
			progressbar.OptionSetDescription(exec.Name()),
			progressbar.OptionEnableColorCodes(output.Profile != termenv.Ascii),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("execs"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionOnCompletion(func() { fmt.Println() }),
		)
	}

	// inFlight limits the number of buffers allocated at any time.
	var inFlight chan struct{}
	if maxInFlight > 0 {
		inFlight = make(chan struct{}, maxInFlight)
	}
	// continuations run after the Event is ready: they are waited on separately.
	var mu sync.Mutex
	var continuations sync.WaitGroup
	events := make([]*async.Event, 0, numExecutions)
	start := time.Now()
	for ii := range numExecutions {
		if inFlight != nil {
			inFlight <- struct{}{}
		}
		results, temp := newWritableViews(table)
		submitted := time.Now()
		event, err := exec.Execute(arguments, results, temp)
		if err != nil {
			// Invalid views are a bug in the benchmark itself.
			klog.Fatalf("Failed to execute %q: %+v", exec.Name(), err)
		}
		continuations.Add(1)
		event.AndThen(func(err error) {
			defer continuations.Done()
			stats.latencies[ii] = time.Since(submitted)
			mu.Lock()
			if err != nil {
				stats.numFailures++
				if stats.firstFailure == nil {
					stats.firstFailure = err
				}
			}
			if n := exec.NumInFlight(); n > stats.maxInFlight {
				stats.maxInFlight = n
			}
			mu.Unlock()
			if bar != nil {
				_ = bar.Add(1)
			}
			if inFlight != nil {
				<-inFlight
			}
		})
		events = append(events, event)
	}
	err := async.WaitAll(events...)
	continuations.Wait()
	stats.wallTime = time.Since(start)
	if err != nil && !errors.Is(err, nanort.ErrExecutionFailure) {
		klog.Errorf("Unexpected error: %+v", err)
	}
	if stats.firstFailure != nil {
		klog.Errorf("%d executions failed, first failure: %v", stats.numFailures, stats.firstFailure)
	}
	return stats
}

// slotBytes returns the size to allocate for slot idx.
func slotBytes(table *nanort.AllocationTable, idx int) int {
	size := table.SlotSize(idx)
	if size == nanort.UnknownSize {
		return *flagSize * 4
	}
	return size
}

// newArguments allocates the arguments, shared by all executions, filled with small float32 values
// when they fit.
func newArguments(table *nanort.AllocationTable) []nanort.Argument {
	arguments := make([]nanort.Argument, table.NumArguments())
	for ii := range arguments {
		size := slotBytes(table, table.ArgumentAllocation(ii))
		values := make([]float32, size/4)
		for jj := range values {
			values[jj] = float32((ii + jj) % 7)
		}
		data := make([]byte, size)
		copy(data, nanort.NewArgument(values).Data())
		arguments[ii] = nanort.ArgumentFromBytes(data)
	}
	return arguments
}

// newWritableViews allocates the results and the temp buffer of one execution.
func newWritableViews(table *nanort.AllocationTable) ([]nanort.Result, nanort.PreallocatedTemp) {
	results := make([]nanort.Result, table.NumResults())
	for ii := range results {
		results[ii] = nanort.ResultFromBytes(make([]byte, slotBytes(table, table.ResultAllocation(ii))))
	}
	var temp nanort.PreallocatedTemp
	if idx, ok := table.TempAllocation(); ok {
		temp = make(nanort.PreallocatedTemp, slotBytes(table, idx))
	}
	return results, temp
}

// viewsBytes returns the total of bytes viewed by one execution.
func viewsBytes(table *nanort.AllocationTable) (total int) {
	for ii := range table.NumArguments() {
		total += slotBytes(table, table.ArgumentAllocation(ii))
	}
	for ii := range table.NumResults() {
		total += slotBytes(table, table.ResultAllocation(ii))
	}
	if idx, ok := table.TempAllocation(); ok {
		total += slotBytes(table, idx)
	}
	return
}
