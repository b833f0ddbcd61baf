package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type globals struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Submit documents to and inspect the intake pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "config file (env INTAKE_* always applies)")

	root.AddCommand(
		newSubmitCmd(g),
		newWatchCmd(g),
		newExtractCmd(g),
		newHealthCmd(g),
		newExportCmd(g),
	)
	return root
}

// config loads configuration and a logger writing to stderr, keeping stdout
// for command output.
func (g *globals) config() (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(g.configFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.Format == "" || cfg.Log.Format == "json" {
		cfg.Log.Format = "text"
	}
	logger := server.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (g *globals) app(ctx context.Context) (*server.App, error) {
	cfg, logger, err := g.config()
	if err != nil {
		return nil, err
	}
	return server.New(ctx, cfg, logger)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
