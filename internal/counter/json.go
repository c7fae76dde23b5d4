package counter

import (
	"encoding/json"
	"fmt"
)

// wire is the transit form of a counter: its depth plus the nested mapping,
// e.g. {"depth":2,"counts":{"1901":{"the":3}}}.
type wire struct {
	Depth  int             `json:"depth"`
	Counts json.RawMessage `json:"counts"`
}

// Nested returns the counter as nested maps whose leaves are int64.
func (c *Counter) Nested() map[string]any {
	out := make(map[string]any)
	if c.depth == 1 {
		for k, v := range c.leaves {
			out[k] = v
		}
		return out
	}
	for k, child := range c.children {
		out[k] = child.Nested()
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (c *Counter) MarshalJSON() ([]byte, error) {
	counts, err := json.Marshal(c.Nested())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire{Depth: c.depth, Counts: counts})
}

// UnmarshalJSON implements json.Unmarshaler. It rejects a missing depth,
// nesting that does not match the depth, and negative counts.
func (c *Counter) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode counter: %w", err)
	}
	if w.Depth < 1 {
		return fmt.Errorf("decode counter: invalid depth %d", w.Depth)
	}

	decoded := New(w.Depth)
	if len(w.Counts) > 0 && string(w.Counts) != "null" {
		if err := decoded.decode(w.Counts, nil); err != nil {
			return err
		}
	}

	*c = *decoded
	return nil
}

func (c *Counter) decode(raw json.RawMessage, prefix Key) error {
	if c.depth == 1 {
		var leaves map[string]int64
		if err := json.Unmarshal(raw, &leaves); err != nil {
			return fmt.Errorf("decode counter at %q: %w", prefix.String(), err)
		}
		for k, v := range leaves {
			if v < 0 {
				return fmt.Errorf("decode counter: negative count %d at %q", v, append(prefix, k).String())
			}
			if v != 0 {
				c.leaves[k] += v
			}
		}
		return nil
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(raw, &children); err != nil {
		return fmt.Errorf("decode counter at %q: %w", prefix.String(), err)
	}
	for k, childRaw := range children {
		child := New(c.depth - 1)
		if err := child.decode(childRaw, append(prefix, k)); err != nil {
			return err
		}
		if !child.IsEmpty() {
			c.children[k] = child
		}
	}
	return nil
}
