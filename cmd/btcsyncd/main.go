// Command btcsyncd runs the block-synchronization core described by §6.5:
// `start` runs live peer sync, `import` bulk-loads a block stream offline,
// and `rollback-to` discards storage above a height. Grounded on the
// teacher's cmd/geth entry-point shape (a urfave/cli/v2 App with
// subcommands, config loaded once up front) adapted to this module's much
// smaller command surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/btcsync-io/btcsyncd/internal/config"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/storage"
)

// defaultCacheBytes sizes the LevelStore's header cache; original_source
// doesn't expose a tuned default for this so it's picked as a reasonable
// fixed value rather than plumbed through config for a single-binary CLI.
const defaultCacheBytes = 64 << 20

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to a TOML configuration file",
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	config.ApplyNetworkEnv(&cfg)
	return cfg, nil
}

func openStore(cfg config.Config) (storage.Store, error) {
	return storage.OpenLevelStore(cfg.DataDir, defaultCacheBytes)
}

func main() {
	app := &cli.App{
		Name:  "btcsyncd",
		Usage: "Bitcoin block-synchronization core",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			startCommand,
			importCommand,
			rollbackCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var startCommand = &cli.Command{
	Name:  "start",
	Usage: "run live peer synchronization",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := setupLogging(cfg.LogLevel)

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n := newNode(cfg, store, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return n.Start(ctx)
	},
}

var importCommand = &cli.Command{
	Name:  "import",
	Usage: "bulk-import a length-prefixed block stream file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "file", Required: true, Usage: "path to the block stream file"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := setupLogging(cfg.LogLevel)

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		imported, err := runImport(cfg, store, log, c.String("file"))
		if err != nil {
			return err
		}
		log.Info("import complete", "blocks_imported", imported)
		return nil
	},
}

var rollbackCommand = &cli.Command{
	Name:      "rollback-to",
	Usage:     "discard stored blocks above a height",
	ArgsUsage: "<height>",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := setupLogging(cfg.LogLevel)

		if c.Args().Len() != 1 {
			return fmt.Errorf("rollback-to expects exactly one argument: <height>")
		}
		height, err := strconv.ParseUint(c.Args().First(), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid height %q: %w", c.Args().First(), err)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := rollbackTo(store, model.Height(height))
		if err != nil {
			return err
		}
		log.Info("rollback complete", "height", height, "blocks_removed", removed)
		return nil
	},
}
