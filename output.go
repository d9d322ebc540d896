package nostr

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Output is the result of an operation done on many relays at once.
// Every relay targeted ends up either in Success or in Failed, never in both.
type Output[T any] struct {
	Val     T
	Success map[string]struct{}
	Failed  map[string]string
}

func (o Output[T]) Succeeded(url string) bool {
	_, ok := o.Success[url]
	return ok
}

func (o Output[T]) SuccessList() []string {
	return slices.Sorted(maps.Keys(o.Success))
}

func (o Output[T]) FailedList() []string {
	return slices.Sorted(maps.Keys(o.Failed))
}

func (o Output[T]) String() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "success: %v", o.SuccessList())
	for _, url := range o.FailedList() {
		fmt.Fprintf(&b, "; %s: %s", url, o.Failed[url])
	}
	return b.String()
}

// outputCollector builds an Output from results arriving concurrently.
// The first result for each relay is the one that counts.
type outputCollector[T any] struct {
	mu      sync.Mutex
	targets map[string]struct{}
	out     Output[T]
}

func newOutputCollector[T any](targets []string) *outputCollector[T] {
	c := &outputCollector[T]{
		targets: make(map[string]struct{}, len(targets)),
		out: Output[T]{
			Success: make(map[string]struct{}, len(targets)),
			Failed:  make(map[string]string),
		},
	}
	for _, url := range targets {
		c.targets[url] = struct{}{}
	}
	return c
}

func (c *outputCollector[T]) resolved(url string) bool {
	if _, ok := c.out.Success[url]; ok {
		return true
	}
	_, ok := c.out.Failed[url]
	return ok
}

func (c *outputCollector[T]) success(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.targets[url]; !ok || c.resolved(url) {
		return false
	}
	c.out.Success[url] = struct{}{}
	return true
}

func (c *outputCollector[T]) failure(url string, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.targets[url]; !ok || c.resolved(url) {
		return false
	}
	c.out.Failed[url] = err.Error()
	return true
}

// update changes the aggregated value under the collector lock.
func (c *outputCollector[T]) update(fn func(val *T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.out.Val)
}

// result closes the collection: relays that never answered are marked as failed.
func (c *outputCollector[T]) result() Output[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url := range c.targets {
		if !c.resolved(url) {
			c.out.Failed[url] = "no result"
		}
	}
	return c.out
}
