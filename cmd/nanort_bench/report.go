// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/nanort/backends/nanort"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	keyStyle   = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	valueStyle = lipgloss.NewStyle().Align(lipgloss.Left).Padding(0, 1)

	tableBorderColor = "#705090"
)

func newReportTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valueStyle
		})
}

// report renders the benchmark results.
func report(exec *nanort.Executable, cfg nanort.Config, stats *benchStats) string {
	table := newReportTable()
	table.Row("program", exec.Name())
	table.Row("allocations", humanize.Comma(int64(exec.AllocationTable().NumAllocations())))
	table.Row("parallelism", parallelismString(cfg.MaxParallelism))
	table.Row("size check", cfg.SizeCheck.String())
	table.Row("executions", humanize.Comma(int64(stats.numExecutions)))
	table.Row("failures", humanize.Comma(int64(stats.numFailures)))
	table.Row("max in flight", humanize.Comma(int64(stats.maxInFlight)))
	table.Row("bytes per execution", humanize.IBytes(uint64(stats.bytesPerExec)))
	table.Row("wall time", stats.wallTime.String())
	if secs := stats.wallTime.Seconds(); secs > 0 {
		table.Row("throughput", fmt.Sprintf("%s execs/s, %s/s",
			humanize.CommafWithDigits(float64(stats.numExecutions)/secs, 1),
			humanize.IBytes(uint64(float64(stats.bytesPerExec*stats.numExecutions)/secs))))
	}
	for _, p := range []float64{50, 90, 99} {
		table.Row(fmt.Sprintf("latency p%g", p), percentile(stats.latencies, p).String())
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("nanort benchmark"))
	sb.WriteString("\n")
	sb.WriteString(table.Render())
	return sb.String()
}

func parallelismString(n int) string {
	switch {
	case n < 0:
		return "unlimited"
	case n == 0:
		return "sequential"
	default:
		return humanize.Comma(int64(n))
	}
}

// percentile p (0 to 100) of the durations, using the nearest-rank method.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
