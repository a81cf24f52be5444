package main

import (
	"log/slog"
	"os"

	"github.com/alfredjeanlab/permitlink/internal/client"
	"github.com/alfredjeanlab/permitlink/internal/ui"
	"github.com/spf13/cobra"
)

var (
	httpURL    string
	authToken  string
	jsonOutput bool
	noColor    bool

	plClient client.Client
)

func defaultHTTPURL() string {
	if s := os.Getenv("PERMITLINK_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:          "pl <command>",
	Short:        "Correlate sensor datapoints with work permits from CDC streams",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor(os.Stdout) {
			ui.ForceNoColor()
		}
		plClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if plClient != nil {
			plClient.Close()
		}
	},
}

// offline skips client creation for commands that never talk to a server.
func offline(cmd *cobra.Command, args []string) error {
	if noColor || !ui.ShouldUseColor(os.Stdout) {
		ui.ForceNoColor()
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "status API URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("PERMITLINK_AUTH_TOKEN"), "bearer token for the status API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "engine", Title: "Engine:"},
		&cobra.Group{ID: "query", Title: "Queries:"},
	)

	cobra.EnableCommandSorting = false

	// Engine
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(decodeCmd)

	// Queries
	rootCmd.AddCommand(attributionCmd)
	rootCmd.AddCommand(permitsCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(healthCmd)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
