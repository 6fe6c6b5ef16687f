package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jbweber/virtwatch/internal/config"
	"github.com/jbweber/virtwatch/internal/conn"
	"github.com/jbweber/virtwatch/internal/engine"
	"github.com/jbweber/virtwatch/internal/hypervisor"
	"github.com/jbweber/virtwatch/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	configPath string
	logLevel   string
	logFormat  string
	uris       []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "virtwatch",
	Short: "virtwatch - keep live caches of libvirt hypervisors",
	Long: `virtwatch connects to one or more libvirt hypervisors and keeps a cache
of their domains, networks, and storage pools in step with the remote side.

Changes are reported as events, exported as Prometheus metrics, and
optionally published to NATS.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (auto, console, json)")
	rootCmd.PersistentFlags().StringSliceVar(&uris, "uri", nil, "Hypervisor URI, overrides the configured connections (repeatable)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(domainCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(testConnCmd)
}

// setup loads the configuration, applies command line overrides, and
// installs the global logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if len(uris) > 0 {
		cfg.Connections = cfg.Connections[:0]
		for _, u := range uris {
			cfg.Connections = append(cfg.Connections, config.Connection{URI: u})
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, logging.Init(cfg.LoggingConfig()), nil
}

// openOne opens a single connection and runs it through the initial bulk
// load. The caller must close the returned engine.
func openOne(ctx context.Context, uri string) (*engine.Engine, *conn.Connection, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, err
	}
	if uri == "" {
		uri = cfg.URIs()[0]
	}

	e := engine.New(engine.Deps{
		Dial:     engine.LibvirtDialer(cfg.DialTimeout),
		Logger:   log,
		Interval: cfg.TickInterval,
	})
	c, err := e.Add(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	e.Load()
	return e, c, nil
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn [uri]",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uri := hypervisor.DefaultURI
		if len(args) == 1 {
			uri = args[0]
		}
		fmt.Printf("Testing libvirt connection to %s...\n", uri)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		client, err := hypervisor.Dial(ctx, uri, hypervisor.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		v, err := client.Version()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Libvirt version: %s\n", v)

		hostname, err := client.Hostname()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
