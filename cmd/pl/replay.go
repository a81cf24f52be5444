package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/permitlink/internal/config"
	"github.com/alfredjeanlab/permitlink/internal/decode"
	"github.com/alfredjeanlab/permitlink/internal/dispatch"
	"github.com/alfredjeanlab/permitlink/internal/ui"
	"github.com/spf13/cobra"
)

// replayEntry is the outcome of one captured message.
type replayEntry struct {
	Line    int      `json:"line"`
	Stream  string   `json:"stream"`
	Result  string   `json:"result"`
	Error   string   `json:"error,omitempty"`
	Permits []string `json:"permits,omitempty"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Feed a JSONL capture of CDC messages through a fresh engine",
	Long: `Replay reads one message per line. Each line is a CDC envelope with an
extra "stream" key naming the stream it was captured from:

  {"stream":"asset","payload":{"after":{"id":1,...}}}

Use "-" to read from stdin.`,
	GroupID:           "engine",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: offline,
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, _ := cmd.Flags().GetInt("pending-links")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		levelName, _ := cmd.Flags().GetString("log-level")

		level, err := config.ParseLevel(levelName)
		if err != nil {
			return err
		}

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening capture: %w", err)
			}
			defer f.Close()
			in = f
		}

		logger := newLogger(level)
		eng := newEngine(pending, statuses)
		d := eng.dispatcher(dispatch.Options{Logger: logger})

		entries, err := replay(cmd.Context(), in, d)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(os.Stdout, entries)
		}
		printReplayTable(os.Stdout, entries)
		st := eng.store.Stats()
		fmt.Printf("\n%d messages, %d assets, %d permits, %d links, %d pending\n",
			len(entries), st.Assets, st.Permits, st.Links, eng.resolver.Pending())
		return nil
	},
}

func malformedLine(lineNo int, reason string) replayEntry {
	return replayEntry{
		Line:   lineNo,
		Result: decode.Category(decode.ErrMalformedPayload),
		Error:  reason,
	}
}

func init() {
	replayCmd.Flags().Int("pending-links", 0, "park up to this many links whose asset or permit has not arrived yet")
	replayCmd.Flags().StringSlice("status", nil, "only attribute permits with these statuses")
	replayCmd.Flags().String("log-level", "warn", "log level for engine messages on stderr")
}

// replay applies every line of r in order. Blank lines are skipped. A line
// that is not a JSON object with a stream name is recorded as a malformed
// payload and the replay moves on, as the live consumer would.
func replay(ctx context.Context, r io.Reader, d *dispatch.Dispatcher) ([]replayEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var entries []replayEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var head struct {
			Stream string `json:"stream"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			entries = append(entries, malformedLine(lineNo, err.Error()))
			continue
		}
		if head.Stream == "" {
			entries = append(entries, malformedLine(lineNo, "missing stream"))
			continue
		}

		out := d.Handle(ctx, head.Stream, line)
		entry := replayEntry{Line: lineNo, Stream: head.Stream, Result: out.Result}
		if out.Err != nil {
			entry.Error = out.Err.Error()
		}
		for _, a := range out.Attributions {
			entry.Permits = append(entry.Permits, a.Permit.PermitNumber)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	return entries, nil
}

func printReplayTable(w io.Writer, entries []replayEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tSTREAM\tRESULT\tDETAIL")
	for _, e := range entries {
		detail := e.Error
		if len(e.Permits) > 0 {
			detail = strings.Join(e.Permits, ", ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Line, e.Stream, ui.RenderOutcome(e.Result), detail)
	}
	tw.Flush()
}
