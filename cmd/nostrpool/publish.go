package main

import (
	"context"
	"fmt"
	"os"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/keyer"
	"fiatjaf.com/nostrpool/nip19"
	"github.com/mailru/easyjson"
	"github.com/urfave/cli/v3"
)

var publish = &cli.Command{
	Name:        "publish",
	ArgsUsage:   "[<event-json>]",
	Usage:       "publishes events to all relays",
	Description: "takes either an event as an argument or reads a stream of events from stdin.\nunsigned events are signed with --sec.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "sec",
			Usage:   "secret key, hex or nsec",
			Sources: cli.EnvVars("NOSTR_SECRET_KEY"),
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		var signer nostr.Signer
		if sec := c.String("sec"); sec != "" {
			sk, err := parseSecretKey(sec)
			if err != nil {
				return fmt.Errorf("invalid --sec: %w", err)
			}
			ks, err := keyer.NewPlainKeySigner(sk)
			if err != nil {
				return fmt.Errorf("invalid --sec: %w", err)
			}
			signer = ks
		}

		if err := connect(ctx, c); err != nil {
			return err
		}

		hasError := false
		for line := range getStdinLinesOrFirstArgument(c) {
			var evt nostr.Event
			if err := easyjson.Unmarshal([]byte(line), &evt); err != nil {
				fmt.Fprintf(os.Stderr, "invalid event '%s': %s\n", line, err)
				hasError = true
				continue
			}

			if evt.Sig == [64]byte{} {
				if signer == nil {
					fmt.Fprintf(os.Stderr, "event is not signed and there is no --sec\n")
					hasError = true
					continue
				}
				if evt.CreatedAt == 0 {
					evt.CreatedAt = nostr.Now()
				}
				if err := signer.SignEvent(ctx, &evt); err != nil {
					return err
				}
			}

			out, err := pool.SendEvent(ctx, evt, nostr.SendOptions{Timeout: c.Duration("timeout")})
			if err != nil {
				return err
			}
			j, _ := evt.MarshalJSON()
			fmt.Println(string(j))
			printOutput("publish", out)
			if len(out.Success) > 0 {
				fmt.Fprintln(os.Stderr, nip19.EncodeNevent(evt.ID, out.SuccessList(), evt.PubKey))
			}
			if len(out.Success) == 0 {
				hasError = true
			}
		}

		if hasError {
			os.Exit(123)
		}
		return nil
	},
}
