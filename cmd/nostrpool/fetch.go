package main

import (
	"context"
	"fmt"

	"fiatjaf.com/nostrpool"
	"github.com/urfave/cli/v3"
)

var fetch = &cli.Command{
	Name:        "fetch",
	ArgsUsage:   "[<filter-json>]",
	Usage:       "fetches events from all relays and prints them as JSON lines",
	Description: "waits until every relay has sent all its stored events, then prints them deduplicated and newest first.",
	Flags:       filterFlags,
	Action: func(ctx context.Context, c *cli.Command) error {
		filter, err := buildFilter(c)
		if err != nil {
			return err
		}
		if err := connect(ctx, c); err != nil {
			return err
		}

		out, err := pool.FetchEvents(ctx, []nostr.Filter{filter}, c.Duration("timeout"))
		if err != nil {
			return err
		}
		for _, evt := range out.Val {
			j, _ := evt.MarshalJSON()
			fmt.Println(string(j))
		}
		printOutput("fetch", out)
		return nil
	},
}
