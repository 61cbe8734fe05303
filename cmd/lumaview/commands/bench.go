package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lumaview/lumaview/internal/browser"
	"github.com/lumaview/lumaview/internal/config"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

// benchResult summarizes a bench run.
type benchResult struct {
	Navigations int
	Hits        int
	Failures    int
	Bytes       int64
	Latencies   []time.Duration
	Elapsed     time.Duration
}

func (r *benchResult) HitRate() float64 {
	if r.Navigations == 0 {
		return 0
	}
	return float64(r.Hits) / float64(r.Navigations)
}

// Percentile returns the p-th percentile latency (0 < p <= 100).
func (r *benchResult) Percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), r.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p/100+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func newBenchCmd(loadConfig func() (*config.Configuration, error)) *cobra.Command {
	var (
		passes int
		dwell  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench DIR",
		Short: "Step forward through a directory and report latency and hit rate",
		Long: `Navigates forward through every image in DIR, pausing for --dwell after
each one so prefetch can work, and reports per-navigation latency and the
cache hit rate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passes <= 0 {
				return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "--passes must be positive")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dir := args[0]
			paths, err := browser.ScanDir(dir)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return lerrors.NewError(lerrors.ErrCodeInvalidArgument, "no images in "+dir)
			}

			a, err := newApp(cmd.Context(), cfg, dir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := runBench(cmd, a, paths, passes, dwell)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), result)
			printStats(cmd.OutOrStdout(), a)
			return nil
		},
	}

	cmd.Flags().IntVar(&passes, "passes", 1, "number of passes over the directory")
	cmd.Flags().DurationVar(&dwell, "dwell", 50*time.Millisecond, "pause after each image")
	return cmd
}

func runBench(cmd *cobra.Command, a *app, paths []string, passes int, dwell time.Duration) (*benchResult, error) {
	ctx := cmd.Context()
	result := &benchResult{}
	start := time.Now()

	for pass := 0; pass < passes; pass++ {
		for i := range paths {
			frame, err := a.navigate(func() (*browser.Frame, error) {
				return a.navigator.NavigateTo(ctx, paths, i)
			})
			result.Navigations++

			if err != nil {
				if lerrors.IsCanceled(err) && ctx.Err() != nil {
					return nil, err
				}
				result.Failures++
				a.logger.Warn("Navigation failed", map[string]interface{}{
					"path":  paths[i],
					"error": err.Error(),
				})
				continue
			}

			if frame.FromCache {
				result.Hits++
			}
			result.Bytes += frame.Bitmap.Footprint()
			result.Latencies = append(result.Latencies, frame.Latency)
			frame.Release()

			if dwell > 0 {
				select {
				case <-ctx.Done():
					return nil, lerrors.Canceled(ctx.Err())
				case <-time.After(dwell):
				}
			}
		}
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func printBench(out io.Writer, r *benchResult) {
	fmt.Fprintf(out, "navigations: %d (%d failed) in %s\n", r.Navigations, r.Failures, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "hit rate:    %.1f%% (%d of %d)\n", r.HitRate()*100, r.Hits, r.Navigations)
	fmt.Fprintf(out, "latency:     p50 %s  p95 %s  max %s\n",
		r.Percentile(50).Round(time.Microsecond),
		r.Percentile(95).Round(time.Microsecond),
		r.Percentile(100).Round(time.Microsecond))
	fmt.Fprintf(out, "shown:       %s of decoded pixels\n", humanize.IBytes(uint64(r.Bytes)))
}
