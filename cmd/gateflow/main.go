// Command gateflow is an admission-control reverse proxy: per-client token
// buckets reject bursts and a shared leaky bucket smooths what gets through.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-hclog"

	"github.com/vnykmshr/gateflow/internal/config"
	"github.com/vnykmshr/gateflow/internal/server"
)

// CLI is the command line interface.
type CLI struct {
	Config   string `short:"c" type:"path" env:"GATEFLOW_CONFIG" help:"Path to the YAML configuration file."`
	LogLevel string `name:"log-level" help:"Override the configured log level (trace, debug, info, warn, error)."`
	LogJSON  bool   `name:"log-json" help:"Emit JSON logs."`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the admission proxy."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and exit."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// ServeCmd runs the daemon until SIGINT or SIGTERM.
type ServeCmd struct{}

// Run loads the configuration and serves until signaled.
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	logger := cli.logger(cfg)
	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gateflow",
		"listen", cfg.Listen,
		"token_gate", cfg.TokenGate.Enabled,
		"queue_gate", cfg.QueueGate.Enabled,
		"snapshot", cfg.Snapshot.Backend,
	)
	return srv.Run(ctx)
}

// ValidateCmd checks the configuration without starting anything.
type ValidateCmd struct{}

// Run reports whether the configuration is valid.
func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	fmt.Printf("configuration is valid (listen %s, token gate %t, queue gate %t, snapshot %s)\n",
		cfg.Listen, cfg.TokenGate.Enabled, cfg.QueueGate.Enabled, cfg.Snapshot.Backend)
	return nil
}

// VersionCmd prints build information.
type VersionCmd struct{}

// Run prints the module version.
func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	fmt.Printf("gateflow %s\n", version)
	return nil
}

func (cli *CLI) load() (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogJSON {
		cfg.Log.JSON = true
	}
	return cfg, nil
}

func (cli *CLI) logger(cfg *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "gateflow",
		Level:      hclog.LevelFromString(cfg.Log.Level),
		JSONFormat: cfg.Log.JSON,
		Output:     os.Stderr,
	})
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gateflow"),
		kong.Description("Token bucket and leaky bucket admission control for HTTP services."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
