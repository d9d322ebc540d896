package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/nip19"
	"github.com/mailru/easyjson"
	"github.com/urfave/cli/v3"
)

// getStdinLinesOrFirstArgument yields the first argument if there is one, otherwise every line of stdin.
func getStdinLinesOrFirstArgument(c *cli.Command) chan string {
	ch := make(chan string)

	if arg := c.Args().First(); arg != "" {
		go func() {
			ch <- arg
			close(ch)
		}()
		return ch
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 16*1024*1024), 256*1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				ch <- line
			}
		}
		close(ch)
	}()
	return ch
}

func connect(ctx context.Context, c *cli.Command) error {
	if len(pool.Relays()) == 0 {
		return fmt.Errorf("no relays given, use --relay")
	}
	out, err := pool.Connect(ctx, c.Duration("timeout"))
	if err != nil {
		return err
	}
	for _, url := range out.FailedList() {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %s\n", url, out.Failed[url])
	}
	if len(out.Success) == 0 {
		return fmt.Errorf("couldn't connect to any relay")
	}
	return nil
}

func printOutput[T any](action string, out nostr.Output[T]) {
	for _, url := range out.SuccessList() {
		fmt.Fprintf(os.Stderr, "%s %s: ok\n", action, url)
	}
	for _, url := range out.FailedList() {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", action, url, out.Failed[url])
	}
}

var filterFlags = []cli.Flag{
	&cli.StringSliceFlag{Name: "kind", Aliases: []string{"k"}, Usage: "only these kinds"},
	&cli.StringSliceFlag{Name: "author", Aliases: []string{"a"}, Usage: "only these authors, hex, npub or nprofile"},
	&cli.StringSliceFlag{Name: "id", Aliases: []string{"i"}, Usage: "only these ids, hex, note or nevent"},
	&cli.StringSliceFlag{Name: "tag", Usage: "tag condition as 'key=value'"},
	&cli.StringFlag{Name: "since", Aliases: []string{"s"}, Usage: "unix timestamp or a duration like '24h' in the past"},
	&cli.StringFlag{Name: "until", Aliases: []string{"u"}, Usage: "unix timestamp or a duration like '24h' in the past"},
	&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "maximum number of events"},
}

// buildFilter uses the first argument as a JSON filter if given, then applies the flags on top.
func buildFilter(c *cli.Command) (nostr.Filter, error) {
	filter := nostr.Filter{}
	if arg := c.Args().First(); arg != "" {
		if err := easyjson.Unmarshal([]byte(arg), &filter); err != nil {
			return filter, fmt.Errorf("invalid filter '%s': %w", arg, err)
		}
	}

	for _, ks := range c.StringSlice("kind") {
		k, err := strconv.ParseUint(ks, 10, 16)
		if err != nil {
			return filter, fmt.Errorf("invalid kind '%s': %w", ks, err)
		}
		filter.Kinds = append(filter.Kinds, nostr.Kind(k))
	}
	for _, pkh := range c.StringSlice("author") {
		pk, err := parsePubKey(pkh)
		if err != nil {
			return filter, fmt.Errorf("invalid author '%s': %w", pkh, err)
		}
		filter.Authors = append(filter.Authors, pk)
	}
	for _, idh := range c.StringSlice("id") {
		id, err := parseID(idh)
		if err != nil {
			return filter, fmt.Errorf("invalid id '%s': %w", idh, err)
		}
		filter.IDs = append(filter.IDs, id)
	}
	for _, tag := range c.StringSlice("tag") {
		k, v, ok := strings.Cut(tag, "=")
		if !ok {
			return filter, fmt.Errorf("invalid tag '%s', expected key=value", tag)
		}
		if filter.Tags == nil {
			filter.Tags = make(nostr.TagMap)
		}
		filter.Tags[k] = append(filter.Tags[k], v)
	}

	var err error
	if s := c.String("since"); s != "" {
		if filter.Since, err = parseTimestamp(s); err != nil {
			return filter, err
		}
	}
	if s := c.String("until"); s != "" {
		if filter.Until, err = parseTimestamp(s); err != nil {
			return filter, err
		}
	}
	if limit := c.Int("limit"); limit > 0 {
		filter.Limit = int(limit)
	}

	return filter, nil
}

func parseTimestamp(s string) (nostr.Timestamp, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return nostr.Timestamp(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time '%s'", s)
	}
	return nostr.Timestamp(time.Now().Add(-d).Unix()), nil
}

func parsePubKey(value string) (nostr.PubKey, error) {
	if pk, err := nostr.PubKeyFromHex(value); err == nil {
		return pk, nil
	}
	prefix, decoded, err := nip19.Decode(value)
	if err != nil {
		return nostr.ZeroPK, err
	}
	switch v := decoded.(type) {
	case nostr.PubKey:
		return v, nil
	case nip19.ProfilePointer:
		return v.PublicKey, nil
	}
	return nostr.ZeroPK, fmt.Errorf("expected a public key, got %s", prefix)
}

func parseID(value string) (nostr.ID, error) {
	if id, err := nostr.IDFromHex(value); err == nil {
		return id, nil
	}
	prefix, decoded, err := nip19.Decode(value)
	if err != nil {
		return nostr.ZeroID, err
	}
	switch v := decoded.(type) {
	case nostr.ID:
		return v, nil
	case nip19.EventPointer:
		return v.ID, nil
	}
	return nostr.ZeroID, fmt.Errorf("expected an event id, got %s", prefix)
}

func parseSecretKey(value string) ([32]byte, error) {
	if prefix, decoded, err := nip19.Decode(value); err == nil {
		if sk, ok := decoded.([32]byte); ok {
			return sk, nil
		}
		return [32]byte{}, fmt.Errorf("expected a secret key, got %s", prefix)
	}
	return nostr.SecretKeyFromHex(value)
}
