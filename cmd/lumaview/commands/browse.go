package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lumaview/lumaview/internal/browser"
	"github.com/lumaview/lumaview/internal/config"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

const browseHelp = `commands: n (next), p (previous), g <i> (go to), s (stats), q (quit)`

func newBrowseCmd(loadConfig func() (*config.Configuration, error)) *cobra.Command {
	var start int

	cmd := &cobra.Command{
		Use:   "browse DIR",
		Short: "Browse the images in a directory",
		Long: `Lists the images in DIR and reads navigation commands from stdin:

  n        next image
  p        previous image
  g <i>    go to image i
  s        print cache, pool and prefetch statistics
  q        quit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			return runBrowse(cmd, a, browser.NewSession(a.navigator, paths, start))
		},
	}

	cmd.Flags().IntVar(&start, "start", 0, "index of the first image to show")
	return cmd
}

func runBrowse(cmd *cobra.Command, a *app, session *browser.Session) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	step := func(load func() (*browser.Frame, error)) {
		frame, err := a.navigate(load)
		show(out, session, frame, err)
	}

	fmt.Fprintf(out, "%d images. %s\n", session.Len(), browseHelp)
	step(func() (*browser.Frame, error) { return session.Show(ctx) })

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "n":
			step(func() (*browser.Frame, error) { return session.Next(ctx) })
		case "p":
			step(func() (*browser.Frame, error) { return session.Previous(ctx) })
		case "g":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: g <index>")
				continue
			}
			i, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(out, "invalid index %q\n", fields[1])
				continue
			}
			step(func() (*browser.Frame, error) { return session.Jump(ctx, i) })
		case "s":
			printStats(out, a)
		case "q":
			return nil
		default:
			fmt.Fprintln(out, browseHelp)
		}
	}
}

func show(out io.Writer, session *browser.Session, frame *browser.Frame, err error) {
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", describeError(err))
		return
	}
	defer frame.Release()

	source := "decoded"
	if frame.FromCache {
		source = "cached"
	}
	fmt.Fprintf(out, "[%d/%d] %s %dx%d %s %s in %s\n",
		frame.Index+1, session.Len(), frame.Path,
		frame.Bitmap.Width(), frame.Bitmap.Height(),
		humanize.IBytes(uint64(frame.Bitmap.Footprint())),
		source, frame.Latency.Round(10*time.Microsecond))
}

func printStats(out io.Writer, a *app) {
	cs := a.store.Stats()
	fmt.Fprintf(out, "cache:    %d entries, %s of %s (%.0f%%), hit rate %.1f%%, %d evictions\n",
		cs.Count, humanize.IBytes(uint64(cs.CurrentBytes)), humanize.IBytes(uint64(cs.MaxBytes)),
		cs.Utilization*100, cs.HitRate*100, cs.Evictions)

	ps := a.pool.Stats()
	fmt.Fprintf(out, "pool:     %s outstanding, %d rents, %d reuses, %d unpooled, %d drops\n",
		humanize.IBytes(uint64(max(ps.OutstandingBytes(), 0))), ps.Rents, ps.Reuses, ps.UnpooledAllocations, ps.Drops)
	for _, c := range ps.Classes {
		fmt.Fprintf(out, "  %-8s idle %d (%s), outstanding %d\n",
			c.Name, c.Idle, humanize.IBytes(uint64(c.IdleBytes)), c.Outstanding)
	}

	if a.scheduler != nil {
		st := a.scheduler.Stats()
		fmt.Fprintf(out, "prefetch: %d generations, %d completed, %d skipped, %d cancelled, %d failed\n",
			st.Generations, st.Completed, st.Skipped, st.Cancelled, st.Failed)
	}

	ns := a.navigator.Stats()
	fmt.Fprintf(out, "navigate: %d total, %d from cache, %d decoded, %d failed, %d cancelled\n",
		ns.Navigations, ns.CacheHits, ns.Decodes, ns.Failures, ns.Cancellations)
}

// describeError renders a load error for the terminal.
func describeError(err error) string {
	var le *lerrors.LumaError
	if errors.As(err, &le) && le.UserFacing {
		if path := le.Context["path"]; path != "" {
			return le.UserFacingMessage() + ": " + path
		}
		return le.UserFacingMessage()
	}
	return err.Error()
}
