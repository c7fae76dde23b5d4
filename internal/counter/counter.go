// Package counter implements the nested associative counter that workers
// accumulate and the coordinator merges.
//
// A Counter has a fixed depth. Depth 1 maps a key to a count, depth 2 maps a
// key to a depth 1 counter, and so on. Merging two counters sums the counts
// of identical key paths; it is commutative and associative, and the empty
// counter of the same depth is its identity.
package counter

import (
	"fmt"
	"sort"
	"strings"
)

// Key is a composite key, outermost component first.
type Key []string

// String joins the components with "/".
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Entry is one flattened leaf.
type Entry struct {
	Key   Key
	Count int64
}

// Counter is a recursive associative map of a fixed depth.
// The zero value is not usable; call New.
type Counter struct {
	depth    int
	leaves   map[string]int64
	children map[string]*Counter
}

// New returns an empty counter of the given depth. Depth must be >= 1.
func New(depth int) *Counter {
	if depth < 1 {
		panic(fmt.Sprintf("counter: invalid depth %d", depth))
	}
	c := &Counter{depth: depth}
	if depth == 1 {
		c.leaves = make(map[string]int64)
	} else {
		c.children = make(map[string]*Counter)
	}
	return c
}

// Depth returns the number of key components.
func (c *Counter) Depth() int {
	return c.depth
}

// Len returns the number of leaves.
func (c *Counter) Len() int {
	if c.depth == 1 {
		return len(c.leaves)
	}
	n := 0
	for _, child := range c.children {
		n += child.Len()
	}
	return n
}

// IsEmpty reports whether the counter has no leaves.
func (c *Counter) IsEmpty() bool {
	return c.Len() == 0
}

// Total returns the sum of every leaf.
func (c *Counter) Total() int64 {
	var total int64
	if c.depth == 1 {
		for _, v := range c.leaves {
			total += v
		}
		return total
	}
	for _, child := range c.children {
		total += child.Total()
	}
	return total
}

// Add increments the leaf at key by n. The key length must equal the depth
// and n must not be negative. Adding zero never creates a leaf.
func (c *Counter) Add(key Key, n int64) error {
	if len(key) != c.depth {
		return fmt.Errorf("key %q has %d components, counter depth is %d", key.String(), len(key), c.depth)
	}
	if n < 0 {
		return fmt.Errorf("negative increment %d for key %q", n, key.String())
	}
	if n == 0 {
		return nil
	}
	c.add(key, n)
	return nil
}

func (c *Counter) add(key Key, n int64) {
	if c.depth == 1 {
		c.leaves[key[0]] += n
		return
	}
	child, ok := c.children[key[0]]
	if !ok {
		child = New(c.depth - 1)
		c.children[key[0]] = child
	}
	child.add(key[1:], n)
}

// Get returns the count at a full key, or the subtotal under a key prefix.
// Missing keys count zero.
func (c *Counter) Get(key ...string) int64 {
	if len(key) == 0 {
		return c.Total()
	}
	if len(key) > c.depth {
		return 0
	}
	if c.depth == 1 {
		return c.leaves[key[0]]
	}
	child, ok := c.children[key[0]]
	if !ok {
		return 0
	}
	return child.Get(key[1:]...)
}

// Child returns the sub-counter under k, or nil at depth 1 or when absent.
func (c *Counter) Child(k string) *Counter {
	if c.depth == 1 {
		return nil
	}
	return c.children[k]
}

// Keys returns the outermost key components in sorted order.
func (c *Counter) Keys() []string {
	var keys []string
	if c.depth == 1 {
		keys = make([]string, 0, len(c.leaves))
		for k := range c.leaves {
			keys = append(keys, k)
		}
	} else {
		keys = make([]string, 0, len(c.children))
		for k := range c.children {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Merge folds other into c in place. Depths must match. other is not
// modified and c never aliases any of its sub-counters.
func (c *Counter) Merge(other *Counter) error {
	if other == nil {
		return nil
	}
	if other.depth != c.depth {
		return fmt.Errorf("cannot merge depth %d counter into depth %d counter", other.depth, c.depth)
	}
	c.merge(other)
	return nil
}

func (c *Counter) merge(other *Counter) {
	if c.depth == 1 {
		for k, v := range other.leaves {
			if v != 0 {
				c.leaves[k] += v
			}
		}
		return
	}
	for k, oc := range other.children {
		if oc.IsEmpty() {
			continue
		}
		child, ok := c.children[k]
		if !ok {
			child = New(c.depth - 1)
			c.children[k] = child
		}
		child.merge(oc)
	}
}

// Merge returns a new counter holding the sum of a and b.
func Merge(a, b *Counter) (*Counter, error) {
	if a.depth != b.depth {
		return nil, fmt.Errorf("cannot merge counters of depth %d and %d", a.depth, b.depth)
	}
	out := New(a.depth)
	out.merge(a)
	out.merge(b)
	return out, nil
}

// Clone returns a deep copy.
func (c *Counter) Clone() *Counter {
	out := New(c.depth)
	out.merge(c)
	return out
}

// Equal reports whether both counters have the same depth and leaves.
func (c *Counter) Equal(other *Counter) bool {
	if other == nil || c.depth != other.depth || c.Len() != other.Len() {
		return false
	}
	for _, e := range c.Flatten() {
		if other.Get(e.Key...) != e.Count {
			return false
		}
	}
	return true
}

// Filter returns a copy keeping only leaves whose component at position pos
// satisfies keep.
func (c *Counter) Filter(pos int, keep func(string) bool) *Counter {
	out := New(c.depth)
	c.Walk(func(key Key, n int64) {
		if pos < len(key) && keep(key[pos]) {
			out.add(key, n)
		}
	})
	return out
}

// Walk calls fn for every leaf in sorted key order. The key slice is reused
// between calls; copy it to retain it.
func (c *Counter) Walk(fn func(key Key, n int64)) {
	c.walk(make(Key, 0, c.depth), fn)
}

func (c *Counter) walk(prefix Key, fn func(Key, int64)) {
	for _, k := range c.Keys() {
		key := append(prefix, k)
		if c.depth == 1 {
			fn(key, c.leaves[k])
			continue
		}
		c.children[k].walk(key, fn)
	}
}

// Flatten returns every leaf as an entry, in sorted key order.
func (c *Counter) Flatten() []Entry {
	entries := make([]Entry, 0, c.Len())
	c.Walk(func(key Key, n int64) {
		entries = append(entries, Entry{Key: append(Key(nil), key...), Count: n})
	})
	return entries
}

// FromEntries re-nests flattened entries into a counter of the given depth.
// Duplicate keys are summed.
func FromEntries(depth int, entries []Entry) (*Counter, error) {
	c := New(depth)
	for _, e := range entries {
		if err := c.Add(e.Key, e.Count); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Reset removes every leaf, keeping the depth.
func (c *Counter) Reset() {
	if c.depth == 1 {
		c.leaves = make(map[string]int64)
	} else {
		c.children = make(map[string]*Counter)
	}
}
