package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/eventstore"
	"fiatjaf.com/nostrpool/eventstore/badger"
	"fiatjaf.com/nostrpool/eventstore/boltdb"
	"fiatjaf.com/nostrpool/eventstore/slicestore"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

var (
	pool *nostr.Pool
	db   nostr.Database
)

var app = &cli.Command{
	Name:      "nostrpool",
	Usage:     "talks to many relays at once",
	UsageText: "nostrpool -r wss://relay.one -r wss://relay.two <fetch|publish|sync|status> ...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "relay",
			Aliases: []string{"r"},
			Usage:   "relay to use, can be given many times",
			Sources: cli.EnvVars("NOSTRPOOL_RELAYS"),
		},
		&cli.StringFlag{
			Name:    "store",
			Aliases: []string{"d"},
			Usage:   "path to a local database, events received are saved there",
			Sources: cli.EnvVars("NOSTRPOOL_STORE"),
		},
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "store type ('boltdb', 'badger' or 'memory')",
			Value:   "boltdb",
			Sources: cli.EnvVars("NOSTRPOOL_STORE_TYPE"),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "how long to wait for each relay",
			Value: 10 * time.Second,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "print debug logs",
		},
	},
	Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
		level := zerolog.WarnLevel
		if c.Bool("verbose") {
			level = zerolog.DebugLevel
		}
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			With().Timestamp().Logger().Level(level)
		nostr.SetLogger(logger)

		if path := strings.TrimSuffix(c.String("store"), "/"); path != "" {
			var err error
			switch c.String("type") {
			case "boltdb":
				db, err = openBolt(path, &logger)
			case "badger":
				db, err = openBadger(path, &logger)
			case "memory":
				db = slicestore.New()
			default:
				return ctx, fmt.Errorf("'%s' store type is not supported", c.String("type"))
			}
			if err != nil {
				return ctx, fmt.Errorf("failed to open store at '%s': %w", path, err)
			}
		}

		pool = nostr.NewPool(nostr.PoolOptions{
			RelayOptions: nostr.RelayOptions{
				Database:       db,
				ConnectTimeout: c.Duration("timeout"),
				PublishTimeout: c.Duration("timeout"),
			},
		})

		for _, url := range c.StringSlice("relay") {
			if _, err := pool.AddRelay(url, nostr.CapReadWrite); err != nil {
				return ctx, err
			}
		}

		return ctx, nil
	},
	After: func(ctx context.Context, c *cli.Command) error {
		if pool != nil {
			pool.Shutdown()
		}
		if db != nil {
			return db.Close()
		}
		return nil
	},
	Commands: []*cli.Command{
		fetch,
		publish,
		syncCmd,
		status,
	},
}

func openBolt(path string, logger *zerolog.Logger) (nostr.Database, error) {
	b := &boltdb.BoltBackend{Path: path, Logger: logger}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return eventstore.New(b), nil
}

func openBadger(path string, logger *zerolog.Logger) (nostr.Database, error) {
	b := &badger.BadgerBackend{Path: path, Logger: logger}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return eventstore.New(b), nil
}

func main() {
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
