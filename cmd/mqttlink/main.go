// mqttlink - resilient MQTT client
//
// mqttlink keeps one MQTT session alive across broker restarts and network
// loss, replaying its subscriptions on every reconnect. The binary bundles:
//   - run:      the long-running client with journal, metrics and status feed
//   - shell:    an interactive console against a managed connection
//   - trace:    a dump of a CBOR trace file written by run
//   - discover: a list of brokers advertised over mDNS
//
// Usage:
//
//	mqttlink [command] [flags]
//
// Configuration is read from the YAML file named by -config (or
// MQTTLINK_CONFIG), then overridden by MQTTLINK_* environment variables.
// A .env file in the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configEnvVar names the config file when -config is not given.
const configEnvVar = "MQTTLINK_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand. With no arguments it runs the client.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return cmdRun(ctx, args, stderr)
	case "shell":
		return cmdShell(ctx, args, stdout, stderr)
	case "trace":
		return cmdTrace(args, stdout, stderr)
	case "discover":
		return cmdDiscover(ctx, args, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "mqttlink %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: mqttlink <command> [flags]

Commands:
  run        Run the client (default)
  shell      Interactive console
  trace      Print a trace file
  discover   List brokers advertised over mDNS
  version    Print version information

Run 'mqttlink <command> -h' for command flags.
`)
}

// loadDotEnv loads path into the environment. A missing file is not an error
// and variables already set are kept.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// newFlagSet creates a flag set with the shared -config flag.
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(stderr)
	path := fset.String("config", os.Getenv(configEnvVar), "path to the YAML config file")
	return fset, path
}

// loadConfig loads and validates the configuration and builds the logger.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}
