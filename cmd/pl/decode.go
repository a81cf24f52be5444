package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alfredjeanlab/permitlink/internal/decode"
	"github.com/alfredjeanlab/permitlink/internal/ui"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:               "decode <stream> [file]",
	Short:             "Decode one CDC message and print the typed record",
	GroupID:           "engine",
	Args:              cobra.RangeArgs(1, 2),
	PersistentPreRunE: offline,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := io.Reader(os.Stdin)
		if len(args) == 2 && args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening message: %w", err)
			}
			defer f.Close()
			in = f
		}
		raw, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		return runDecode(os.Stdout, args[0], raw)
	},
}

func runDecode(w io.Writer, stream string, raw []byte) error {
	ev, err := decode.Decode(stream, raw)
	if err != nil {
		category := decode.Category(err)
		if jsonOutput {
			printJSON(w, map[string]string{"stream": stream, "category": category, "error": err.Error()})
		} else {
			fmt.Fprintf(w, "%s %v\n", ui.RenderOutcome(category), err)
		}
		return fmt.Errorf("%s: %w", stream, err)
	}

	var record any
	switch ev.Kind {
	case decode.KindAsset:
		record = ev.Asset
	case decode.KindWorkPermit:
		record = ev.Permit
	case decode.KindPermitAsset:
		record = ev.Link
	case decode.KindDatapoint:
		record = ev.Datapoint
	default:
		fmt.Fprintf(w, "%s unknown stream %q (known: %v)\n", ui.RenderOutcome("ignored"), stream, decode.Streams)
		return nil
	}

	if !jsonOutput {
		fmt.Fprintf(w, "%s %s\n", ui.RenderAccent(ev.Kind.String()), ui.RenderMuted("record"))
	}
	return printJSON(w, record)
}
