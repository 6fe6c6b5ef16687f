package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/virtwatch/internal/conn"
)

var targetURI string

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Run lifecycle operations on a domain",
	Long: `Run lifecycle operations on a cached domain.

The connection is opened and loaded first; the operation then runs through
the cached wrapper, which is refreshed on success.`,
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Start or stop a virtual network",
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Start, stop, or refresh a storage pool",
}

func init() {
	for _, c := range []*cobra.Command{domainCmd, networkCmd, poolCmd} {
		c.PersistentFlags().StringVar(&targetURI, "on", "", "Hypervisor URI (default: first configured connection)")
	}

	domainOps := []struct {
		use   string
		short string
		run   func(*conn.Domain) error
	}{
		{"start", "Boot an inactive domain", (*conn.Domain).Start},
		{"shutdown", "Ask the guest to power off", (*conn.Domain).Shutdown},
		{"reboot", "Ask the guest to reboot", (*conn.Domain).Reboot},
		{"reset", "Hard-reset the domain", (*conn.Domain).Reset},
		{"destroy", "Forcibly power off the domain", (*conn.Domain).Destroy},
		{"suspend", "Pause the domain's vCPUs", (*conn.Domain).Suspend},
		{"resume", "Resume a paused domain", (*conn.Domain).Resume},
	}
	for _, op := range domainOps {
		domainCmd.AddCommand(&cobra.Command{
			Use:   op.use + " <name>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDomain(cmd.Context(), args[0], op.use, op.run)
			},
		})
	}
	domainCmd.AddCommand(&cobra.Command{
		Use:   "save <name> <path>",
		Short: "Save the domain's memory to a file and stop it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[1]
			return withDomain(cmd.Context(), args[0], "save", func(d *conn.Domain) error {
				return d.Save(path)
			})
		},
	})
	domainCmd.AddCommand(&cobra.Command{
		Use:   "dumpxml <name>",
		Short: "Print the domain's XML description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDomain(cmd.Context(), args[0], "", func(d *conn.Domain) error {
				xmlDesc, err := d.XMLDesc()
				if err != nil {
					return err
				}
				fmt.Println(xmlDesc)
				return nil
			})
		},
	})

	networkCmd.AddCommand(
		networkOp("start", "Start an inactive network", (*conn.Network).Start),
		networkOp("stop", "Stop an active network", (*conn.Network).Stop),
	)

	poolCmd.AddCommand(
		poolOp("start", "Start an inactive pool", (*conn.StoragePool).Start),
		poolOp("stop", "Stop an active pool", (*conn.StoragePool).Stop),
		poolOp("refresh", "Rescan the pool's volumes", (*conn.StoragePool).RefreshVolumes),
	)
}

// withConnection opens the target connection, runs fn, and closes it.
func withConnection(ctx context.Context, fn func(*conn.Connection) error) error {
	e, c, err := openOne(ctx, targetURI)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close connection: %v\n", closeErr)
		}
	}()
	return fn(c)
}

func withDomain(ctx context.Context, name, op string, fn func(*conn.Domain) error) error {
	return withConnection(ctx, func(c *conn.Connection) error {
		d, ok := c.LookupDomain(name)
		if !ok {
			return fmt.Errorf("domain %q not found on %s", name, c.URI())
		}
		if err := fn(d); err != nil {
			return err
		}
		if op != "" {
			fmt.Printf("✓ domain %s: %s (now %s)\n", name, op, d.Info().State)
		}
		return nil
	})
}

func networkOp(use, short string, run func(*conn.Network) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withConnection(cmd.Context(), func(c *conn.Connection) error {
				n, ok := c.LookupNetwork(name)
				if !ok {
					return fmt.Errorf("network %q not found on %s", name, c.URI())
				}
				if err := run(n); err != nil {
					return err
				}
				fmt.Printf("✓ network %s: %s (now %s)\n", name, use, n.Info().State)
				return nil
			})
		},
	}
}

func poolOp(use, short string, run func(*conn.StoragePool) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withConnection(cmd.Context(), func(c *conn.Connection) error {
				p, ok := c.LookupStoragePool(name)
				if !ok {
					return fmt.Errorf("pool %q not found on %s", name, c.URI())
				}
				if err := run(p); err != nil {
					return err
				}
				fmt.Printf("✓ pool %s: %s (now %s)\n", name, use, p.Info().State)
				return nil
			})
		},
	}
}
