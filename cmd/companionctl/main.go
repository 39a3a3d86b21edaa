package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mycelian/mycelian-companion/companionservice"
	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/logger"
)

// app resolves components per command. Tests preset comps to share one store.
type app struct {
	out   io.Writer
	comps *companionservice.Components
	build func(ctx context.Context) (*companionservice.Components, error)
}

func defaultBuild(ctx context.Context) (*companionservice.Components, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(os.Stderr, "companionctl").Level(level)
	return companionservice.Build(ctx, cfg, log)
}

func (a *app) with(ctx context.Context, fn func(c *companionservice.Components) error) error {
	if a.comps != nil {
		return fn(a.comps)
	}
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "companionctl",
		Short:         "Operator CLI for the companion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newCycleCmd(a),
		newSweepCmd(a),
		newFeedbackCmd(a),
		newContextCmd(a),
		newUsersCmd(a),
		newCredentialCmd(a),
	)
	return rootCmd
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	a := &app{out: os.Stdout, build: defaultBuild}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
