package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/client"
	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/spf13/cobra"
)

var attributionCmd = &cobra.Command{
	Use:     "attribution",
	Short:   "Show the permits a datapoint on an asset would be attributed to",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		assetID, _ := cmd.Flags().GetInt64("asset")
		atFlag, _ := cmd.Flags().GetString("at")
		if assetID == 0 {
			return fmt.Errorf("--asset is required")
		}

		var at time.Time
		if atFlag != "" {
			t, err := time.Parse(time.RFC3339, atFlag)
			if err != nil {
				return fmt.Errorf("--at must be an RFC 3339 timestamp: %w", err)
			}
			at = t
		}

		resp, err := plClient.Attribution(context.Background(), assetID, at)
		if err != nil {
			return fmt.Errorf("querying attribution: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, resp)
		}
		printAttribution(os.Stdout, resp)
		return nil
	},
}

var permitsCmd = &cobra.Command{
	Use:     "permits [id]",
	Short:   "List work permits, or show the permits with one id",
	GroupID: "query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		assetID, _ := cmd.Flags().GetInt64("asset")

		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			list, err := plClient.GetPermits(ctx, id)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("permit %d not found", id)
				}
				return fmt.Errorf("getting permit: %w", err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, list)
			}
			printPermitTable(os.Stdout, list)
			return nil
		}

		var list []model.WorkPermit
		var err error
		if cmd.Flags().Changed("asset") {
			list, err = plClient.ListPermitsForAsset(ctx, assetID)
		} else {
			list, err = plClient.ListPermits(ctx)
		}
		if err != nil {
			return fmt.Errorf("listing permits: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, list)
		}
		printPermitTable(os.Stdout, list)
		return nil
	},
}

var assetsCmd = &cobra.Command{
	Use:     "assets [id]",
	Short:   "List assets, or show one asset",
	GroupID: "query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			asset, err := plClient.GetAsset(ctx, id)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("asset %d not found", id)
				}
				return fmt.Errorf("getting asset: %w", err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, asset)
			}
			printAsset(os.Stdout, asset)
			return nil
		}

		assets, err := plClient.ListAssets(ctx)
		if err != nil {
			return fmt.Errorf("listing assets: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, assets)
		}
		printAssetTable(os.Stdout, assets)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show entity store counts",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := plClient.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, st)
		}
		printStats(os.Stdout, st)
		return nil
	},
}

var streamsCmd = &cobra.Command{
	Use:     "streams",
	Short:   "Show per-stream message activity",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		streams, err := plClient.Streams(context.Background())
		if err != nil {
			return fmt.Errorf("getting streams: %w", err)
		}
		if jsonOutput {
			return printJSON(os.Stdout, streams)
		}
		printStreams(os.Stdout, streams)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of a running engine",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := plClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(os.Stdout, map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func init() {
	attributionCmd.Flags().Int64("asset", 0, "asset id (required)")
	attributionCmd.Flags().String("at", "", "datapoint time as RFC 3339 (default now)")
	permitsCmd.Flags().Int64("asset", 0, "only permits linked to this asset")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: must be an integer", s)
	}
	return id, nil
}
