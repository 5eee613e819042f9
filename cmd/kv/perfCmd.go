package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/ttlKV/cmd/util"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for expiring trees",
		Long:    "Runs benchmarks against the selected tree. All test keys start with __test and are deleted afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// perfTest is a single benchmark. If prepare is set, the keys of the test are written first.
type perfTest struct {
	name    string
	prepare bool
	op      func(key string, counter int) error
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for expiring trees")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Database: %s\nTree: %s\nTTL: %s\nThreads: %d\n", database.Path(), tree.Name(), tree.Options().ExpirationLength, perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	tests := []perfTest{
		{name: "set", op: func(key string, _ int) error {
			_, _, err := tree.Insert([]byte(key), "test")
			return err
		}},
		{name: "set-large", op: func(key string, _ int) error {
			_, _, err := tree.Insert([]byte(key), largeValue)
			return err
		}},
		{name: "get", prepare: true, op: func(key string, _ int) error {
			_, _, err := tree.Get([]byte(key))
			return err
		}},
		{name: "delete", prepare: true, op: func(key string, _ int) error {
			_, _, err := tree.Remove([]byte(key))
			return err
		}},
		{name: "touch", prepare: true, op: func(key string, _ int) error {
			return tree.Refresh([]byte(key))
		}},
		{name: "expired", prepare: true, op: func(_ string, _ int) error {
			_, err := tree.ExpiredKeys(perfKeySpread)
			return err
		}},
		{name: "mixed", prepare: true, op: func(key string, counter int) error {
			var err error
			switch counter % 4 {
			case 0:
				_, _, err = tree.Insert([]byte(key), "test")
			case 1:
				_, _, err = tree.Get([]byte(key))
			case 2:
				_, _, err = tree.Remove([]byte(key))
			case 3:
				err = tree.Refresh([]byte(key))
			}
			return err
		}},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range tests {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test.name) {
				return
			}

			getKey, iter := getKeys(test.name)
			if test.prepare {
				iter(func(k string) {
					if _, _, err := tree.Insert([]byte(k), "test"); err != nil {
						plog.Warningf("(%s) - error setting key: %v", test.name, err)
					}
				})
			}
			b.Cleanup(func() {
				iter(func(k string) {
					if _, _, err := tree.Remove([]byte(k)); err != nil {
						plog.Warningf("(%s) - error deleting key: %v", test.name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := test.op(getKey(counter), counter); err != nil {
						plog.Warningf("(%s) - error: %v", test.name, err)
					}
					counter++
				}
			})
		})
		results[test.name] = result
		printResult(test.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Tree", "Codec", "Compress", "MetaCodec", "TTL", "ExtendOnUpdate", "ExtendOnFetch", "NoSync",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	opts := tree.Options()
	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			tree.Name(),
			viper.GetString("codec"),
			viper.GetString("compress"),
			string(opts.MetadataFormat),
			opts.ExpirationLength.String(),
			strconv.FormatBool(opts.ExtendOnUpdate),
			strconv.FormatBool(opts.ExtendOnFetch),
			strconv.FormatBool(viper.GetBool("no-sync")),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
