package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/server"
	"github.com/alfredjeanlab/permitlink/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func printAssetTable(w io.Writer, assets []model.Asset) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTAG\tSTATUS\tNAME\tUPDATED")
	for _, a := range assets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.ID, a.Tag, a.Status, truncate(a.Name, 40), formatTime(a.LastUpdated))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d assets\n", len(assets))
}

func printAsset(w io.Writer, a *model.Asset) {
	fmt.Fprintf(w, "ID:           %d\n", a.ID)
	fmt.Fprintf(w, "Tag:          %s\n", a.Tag)
	fmt.Fprintf(w, "Name:         %s\n", a.Name)
	fmt.Fprintf(w, "Status:       %s\n", a.Status)
	if a.Description != "" {
		fmt.Fprintf(w, "Description:  %s\n", a.Description)
	}
	fmt.Fprintf(w, "Created:      %s\n", formatTime(a.DateCreated))
	fmt.Fprintf(w, "Last Updated: %s\n", formatTime(a.LastUpdated))
}

func assetTags(p *model.WorkPermit) string {
	tags := make([]string, 0, len(p.Assets))
	for _, a := range p.Assets {
		tags = append(tags, a.Tag)
	}
	return strings.Join(tags, ", ")
}

func printPermitTable(w io.Writer, permits []model.WorkPermit) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tSTATUS\tVALID FROM\tVALID TO\tRESPONSIBLE\tASSETS")
	for i := range permits {
		p := &permits[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.PermitNumber,
			p.Status,
			formatTime(p.ValidFrom),
			formatTime(p.ValidTo),
			p.ResponsiblePerson,
			truncate(assetTags(p), 40),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d permits\n", len(permits))
}

func printAttribution(w io.Writer, resp *server.AttributionResponse) {
	fmt.Fprintf(w, "Asset %d at %s\n", resp.AssetID, formatTime(resp.Timestamp))
	if len(resp.Permits) == 0 {
		fmt.Fprintln(w, ui.RenderWarn("no covering permit"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tSTATUS\tVALIDITY\tRESPONSIBLE\tLOCATION")
	for _, ap := range resp.Permits {
		validity := ui.RenderOK("within")
		if !ap.WithinValidity {
			validity = ui.RenderWarn("outside")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ap.Permit.PermitNumber,
			ap.Permit.Status,
			validity,
			ap.Permit.ResponsiblePerson,
			ap.Permit.Location,
		)
	}
	tw.Flush()
}

func printStats(w io.Writer, st *server.StatsResponse) {
	fmt.Fprintf(w, "Assets:        %d\n", st.Assets)
	fmt.Fprintf(w, "Permits:       %d\n", st.Permits)
	fmt.Fprintf(w, "Links:         %d\n", st.Links)
	fmt.Fprintf(w, "Pending links: %d\n", st.PendingLinks)
}

func printStreams(w io.Writer, streams []activity.Entry) {
	if len(streams) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no messages received yet"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tSTATE\tMESSAGES\tFAILURES\tLAST RESULT\tIDLE")
	for _, e := range streams {
		state := ui.RenderOK("live")
		if e.Stale {
			state = ui.RenderWarn("stale")
		}
		idle := time.Duration(e.IdleSecs * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.Stream, state, e.Messages, e.Failures, ui.RenderOutcome(e.LastResult), idle)
	}
	tw.Flush()
}
