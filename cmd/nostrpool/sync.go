package main

import (
	"context"
	"fmt"

	"fiatjaf.com/nostrpool"
	"github.com/urfave/cli/v3"
)

var syncCmd = &cli.Command{
	Name:        "sync",
	ArgsUsage:   "[<filter-json>]",
	Usage:       "reconciles the local store with all relays using negentropy",
	Description: "sends what the relays lack and fetches what we lack, according to --direction.",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "direction",
			Usage: "'up', 'down' or 'both'",
			Value: "both",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "only print the differences",
		},
	}, filterFlags...),
	Action: func(ctx context.Context, c *cli.Command) error {
		if db == nil && !c.Bool("dry-run") {
			return fmt.Errorf("sync needs a --store")
		}

		var direction nostr.SyncDirection
		switch c.String("direction") {
		case "both":
			direction = nostr.SyncBoth
		case "up":
			direction = nostr.SyncUp
		case "down":
			direction = nostr.SyncDown
		default:
			return fmt.Errorf("invalid direction '%s'", c.String("direction"))
		}

		filter, err := buildFilter(c)
		if err != nil {
			return err
		}
		if err := connect(ctx, c); err != nil {
			return err
		}

		out, err := pool.Sync(ctx, filter, nostr.SyncOptions{
			Direction: direction,
			DryRun:    c.Bool("dry-run"),
			Timeout:   c.Duration("timeout"),
		})
		if err != nil {
			return err
		}

		rec := out.Val
		for _, id := range rec.Local {
			fmt.Printf("local %s\n", id.Hex())
		}
		for _, id := range rec.Remote {
			fmt.Printf("remote %s\n", id.Hex())
		}
		for id, reason := range rec.SendFailures {
			fmt.Printf("failed %s %s\n", id.Hex(), reason)
		}
		printOutput("sync", out)
		fmt.Println(rec)
		return nil
	},
}
