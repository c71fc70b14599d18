package cliconfig

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// segment is one step of a key path: an object key or an array index.
type segment struct {
	key   string
	index int
	isIdx bool
}

// keyPath addresses a value inside decoded JSON, e.g. channels.slack.allowFrom[0].
type keyPath []segment

var partPattern = regexp.MustCompile(`^([^\[\]]*)((?:\[[^\[\]]*\])*)$`)
var indexPattern = regexp.MustCompile(`\[([^\[\]]*)\]`)

func parseKeyPath(raw string) (keyPath, error) {
	s := strings.TrimSpace(raw)
	var p keyPath
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			continue
		}
		m := partPattern.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("invalid path %q: unbalanced brackets in %q", raw, part)
		}
		if key := strings.TrimSpace(m[1]); key != "" {
			p = append(p, segment{key: key})
		}
		for _, im := range indexPattern.FindAllStringSubmatch(m[2], -1) {
			n, err := strconv.Atoi(strings.TrimSpace(im[1]))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid path %q: bad index %q", raw, im[1])
			}
			p = append(p, segment{index: n, isIdx: true})
		}
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("path is empty")
	}
	return p, nil
}

// leafKey is the object key the path ends on, or "" for an index.
func (p keyPath) leafKey() string {
	if last := p[len(p)-1]; !last.isIdx {
		return last.key
	}
	return ""
}

func (p keyPath) lookup(node any) (any, bool) {
	for _, seg := range p {
		next, ok := child(node, seg)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

func child(node any, seg segment) (any, bool) {
	if seg.isIdx {
		arr, ok := node.([]any)
		if !ok || seg.index >= len(arr) {
			return nil, false
		}
		return arr[seg.index], true
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[seg.key]
	return v, ok
}

// assign returns node with value stored at p, creating objects and growing
// arrays on the way. Scalars in the way are replaced.
func (p keyPath) assign(node, value any) any {
	if len(p) == 0 {
		return value
	}
	seg, rest := p[0], p[1:]
	if seg.isIdx {
		arr, _ := node.([]any)
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		arr[seg.index] = rest.assign(arr[seg.index], value)
		return arr
	}
	obj, ok := node.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	obj[seg.key] = rest.assign(obj[seg.key], value)
	return obj
}

// remove deletes the value at p and reports whether it existed. Removing an
// array element shifts the ones after it.
func (p keyPath) remove(node any) (any, bool) {
	seg, rest := p[0], p[1:]
	if len(rest) > 0 {
		next, ok := child(node, seg)
		if !ok {
			return node, false
		}
		updated, removed := rest.remove(next)
		if !removed {
			return node, false
		}
		if seg.isIdx {
			node.([]any)[seg.index] = updated
		} else {
			node.(map[string]any)[seg.key] = updated
		}
		return node, true
	}

	if seg.isIdx {
		arr, ok := node.([]any)
		if !ok || seg.index >= len(arr) {
			return node, false
		}
		return append(arr[:seg.index], arr[seg.index+1:]...), true
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return node, false
	}
	if _, ok := obj[seg.key]; !ok {
		return node, false
	}
	delete(obj, seg.key)
	return obj, true
}

// parseValue reads raw as JSON and falls back to the literal string, so
// `true`, `42` and `["a"]` keep their types while `gpt-4o` stays text.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
