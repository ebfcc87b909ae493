package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var benchcmpCmd = &cobra.Command{
	Use:   "benchcmp",
	Short: "Compare benchmark runs and fail on regressions",
	Long: `Compare two "go test -bench" outputs for the session hot paths.

The median of every tracked metric in the candidate run is compared with the
baseline median. The command fails when any metric regressed by more than
--threshold or has no samples in either run.`,
	RunE: runBenchcmp,
}

const defaultThreshold = 0.30

// trackedMetrics lists the benchmarks guarded against regressions and the
// units compared for each.
var trackedMetrics = map[string][]string{
	"BenchmarkFindByID":            {"ns/op", "allocs/op"},
	"BenchmarkSaveAttribute":       {"ns/op", "allocs/op"},
	"BenchmarkFindByPrincipalName": {"ns/op"},
}

func init() {
	benchcmpCmd.Flags().String("baseline", "", "Path to the baseline benchmark output")
	benchcmpCmd.Flags().String("candidate", "", "Path to the candidate benchmark output")
	benchcmpCmd.Flags().Float64("threshold", defaultThreshold, "Maximum allowed regression ratio (0.30 = +30%)")

	for key, flag := range map[string]string{
		"benchcmp.baseline":  "baseline",
		"benchcmp.candidate": "candidate",
		"benchcmp.threshold": "threshold",
	} {
		if err := viper.BindPFlag(key, benchcmpCmd.Flags().Lookup(flag)); err != nil {
			benchcmpCmd.PrintErrf("Error binding %s flag: %v\n", flag, err)
		}
	}
}

// sampleSet maps benchmark name to unit to the values seen across runs.
type sampleSet map[string]map[string][]float64

func runBenchcmp(cmd *cobra.Command, _ []string) error {
	baselinePath := viper.GetString("benchcmp.baseline")
	candidatePath := viper.GetString("benchcmp.candidate")
	threshold := viper.GetFloat64("benchcmp.threshold")

	if baselinePath == "" || candidatePath == "" {
		return errors.New("--baseline and --candidate are required")
	}
	if threshold < 0 {
		return errors.New("--threshold must be >= 0")
	}

	baseline, err := parseBenchmarkFile(baselinePath)
	if err != nil {
		return fmt.Errorf("parse baseline: %w", err)
	}
	candidate, err := parseBenchmarkFile(candidatePath)
	if err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}

	failures := compareBenchmarks(cmd.OutOrStdout(), baseline, candidate, threshold)
	if len(failures) > 0 {
		return fmt.Errorf("performance regression threshold exceeded:\n  - %s", strings.Join(failures, "\n  - "))
	}
	return nil
}

// compareBenchmarks writes one line per tracked metric and returns the
// failures in a stable order.
func compareBenchmarks(w io.Writer, baseline, candidate sampleSet, threshold float64) []string {
	names := make([]string, 0, len(trackedMetrics))
	for name := range trackedMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	fmt.Fprintln(w, "benchmark metric baseline candidate delta")
	for _, benchmark := range names {
		for _, metric := range trackedMetrics[benchmark] {
			baseSamples := baseline[benchmark][metric]
			candidateSamples := candidate[benchmark][metric]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", benchmark, metric))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				// Zero-allocation baselines only fail if the candidate allocates.
				if candidateMedian > 0 {
					failures = append(failures, fmt.Sprintf("%s %s regressed from 0 to %.3f", benchmark, metric, candidateMedian))
				}
				continue
			}

			delta := (candidateMedian - baseMedian) / baseMedian
			fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%%\n", benchmark, metric, baseMedian, candidateMedian, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", benchmark, metric, delta*100, threshold*100))
			}
		}
	}
	return failures
}

func parseBenchmarkFile(path string) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file)
}

func parseBenchmarks(r io.Reader) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := trackedMetrics[name]; !ok {
			continue
		}
		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
