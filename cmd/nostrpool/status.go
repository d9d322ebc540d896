package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/urfave/cli/v3"
)

var status = &cli.Command{
	Name:  "status",
	Usage: "connects to all relays and prints their status",
	Action: func(ctx context.Context, c *cli.Command) error {
		out, err := pool.Connect(ctx, c.Duration("timeout"))
		if err != nil {
			return err
		}

		relays := pool.Relays()
		for _, url := range slices.Sorted(maps.Keys(relays)) {
			relay := relays[url]
			stats := relay.Stats()
			line := fmt.Sprintf("%s %s attempts=%d success=%d sent=%dB received=%dB",
				url, relay.Status(), stats.Attempts, stats.Success, stats.BytesSent, stats.BytesReceived)
			if reason, failed := out.Failed[url]; failed {
				line += " error=" + reason
			}
			fmt.Println(line)
		}
		return nil
	},
}
