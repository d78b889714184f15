package main

import (
	"fmt"
	"text/tabwriter"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/generation"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the configured generation and exit",
	Long: `Install and activate the configured generation against the origin, as the
serve command does on startup. Stores of other versions are deleted.`,
	RunE: runInstall,
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List the named stores in the cache",
	Args:  cobra.NoArgs,
	RunE:  runStores,
}

var gcCmd = &cobra.Command{
	Use:   "gc [version]",
	Short: "Delete all stores not belonging to the given version",
	Long: `Delete all stores that follow the store naming scheme but belong to another
version than the given one (or the configured one). Other stores are kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGC,
}

func init() {
	// install talks to the origin like serve does
	flags := installCmd.Flags()
	flags.StringVar(&originFlag, "origin", "", "Origin URL to fetch from (overrides config)")
	flags.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flags.StringVar(&appFlag, "app", "", "Public URL of the application (overrides config)")
	flags.IntVarP(&portFlag, "port", "p", 0, "Port the proxy listens on (overrides config)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	manifest, err := config.AssetManifest()
	if err != nil {
		return err
	}
	provider, err := config.Cache.OpenProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	engineConfig, err := config.EngineConfig(provider, &log.Logger)
	if err != nil {
		return err
	}
	// nothing is waiting for clients here
	engineConfig.SkipWaiting = true
	engine := offlinecache.CreateEngine(engineConfig)

	result, err := engine.Register(cmd.Context(), config.Generation.Version, manifest)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installed %s: %d stored (%s), %d failed\n",
		result.Version, len(result.Stored), humanize.Bytes(uint64(result.Bytes)), len(result.Failed))
	for _, path := range result.Failed {
		fmt.Fprintf(out, "  failed: %s\n", path)
	}
	return nil
}

func runStores(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.ValidateStorage(); err != nil {
		return err
	}
	provider, err := config.Cache.OpenProvider()
	if err != nil {
		return err
	}
	defer provider.Close()
	return printStores(cmd, provider, config.Cache.Prefix, config.Generation.Version)
}

func printStores(cmd *cobra.Command, provider cache.CacheProvider, prefix, current string) error {
	names, err := provider.Stores()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tCATEGORY\tVERSION\tENTRIES")
	for _, name := range names {
		store, err := provider.Open(name)
		if err != nil {
			return err
		}
		entries := 0
		if err := store.Keys(func(string) { entries++ }); err != nil {
			return err
		}
		category, version := "-", "-"
		if c, v, ok := generation.ParseStoreName(prefix, name); ok {
			category, version = c.String(), v
			if v == current {
				version += " (current)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", name, category, version, entries)
	}
	return w.Flush()
}

func runGC(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.ValidateStorage(); err != nil {
		return err
	}
	current := config.Generation.Version
	if len(args) == 1 {
		current = args[0]
	}
	if current == "" {
		return fmt.Errorf("generation.version: %w", errRequired)
	}
	provider, err := config.Cache.OpenProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	deleted, err := generation.NewManager(provider, config.Cache.Prefix, log.Logger).Collect(current)
	for _, name := range deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
	}
	return err
}
