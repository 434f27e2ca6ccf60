// Command devengine is the develop engine's process entry point: it wires
// config, logging, persistence, the module registry, the lifecycle hub, and
// the develop controller into one process and hands off to the Cobra
// command tree. Grounded on the teacher's cmd/photonic/main.go: load config
// first, build the logger from it, build every other collaborator from
// config+logger, then run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"devengine/internal/cli"
	"devengine/internal/config"
	"devengine/internal/develop"
	"devengine/internal/lifecycle"
	"devengine/internal/logging"
	"devengine/internal/module"
	"devengine/internal/module/builtin"
	"devengine/internal/module/loader"
	"devengine/internal/ordering"
	"devengine/internal/persistence"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "devengine:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	store, err := persistence.Open(cfg.Paths.DatabasePath, cfg.Paths.SidecarDir, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := module.NewRegistry()
	builtin.Register(reg)
	reg.Seal()
	builtin.InitMagick()
	defer builtin.CleanupMagick()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := lifecycle.New(log)
	go hub.Run(ctx)

	watcher, err := loader.NewWatcher(log)
	if err != nil {
		return fmt.Errorf("start source watcher: %w", err)
	}

	env := &develop.Env{
		Log:           log,
		Config:        cfg,
		Store:         store,
		Hub:           hub,
		Registry:      reg,
		Loader:        loader.New(log),
		Watcher:       watcher,
		Workflow:      ordering.WorkflowSceneReferred,
		SceneReferred: true,
	}

	ctrl := develop.NewController(env)
	defer ctrl.Shutdown()

	root := cli.NewRoot(ctrl, hub, cfg, log)
	rootCmd := cli.NewRootCmd(root)
	rootCmd.SetContext(ctx)

	return rootCmd.Execute()
}
