package runtime

import "strings"

// Context is the state shared by every operation of one run. Operations add
// or overwrite keys; nothing removes them while a run is in progress.
type Context map[string]any

// Get returns the value stored under key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// Set assigns a single key. Update operations write through it.
func (c Context) Set(key string, value any) {
	c[key] = value
}

// Lookup returns the value at a dot-separated path such as
// "account.profile.id", traversing nested maps.
func (c Context) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := map[string]any(c)
	for _, part := range parts[:len(parts)-1] {
		m, ok := asMap(current[part])
		if !ok {
			return nil, false
		}
		current = m
	}
	v, ok := current[parts[len(parts)-1]]
	return v, ok
}

// SetPath stores value at a dot-separated path, creating intermediate maps
// and replacing non-map values found on the way.
func (c Context) SetPath(path string, value any) {
	parts := strings.Split(path, ".")
	current := map[string]any(c)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Merge copies every key of patch into c, patch keys winning.
func (c Context) Merge(patch map[string]any) {
	for k, v := range patch {
		c[k] = v
	}
}

// Clone returns a shallow copy of c.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Decode fills target, a pointer to a struct, from the context using json
// field tags.
func (c Context) Decode(target any) error {
	return decodeMap(c, target, argsTag)
}

// fillMissing copies the keys of defaults that c does not define yet.
func (c Context) fillMissing(defaults Context) {
	for k, v := range defaults {
		if _, ok := c[k]; !ok {
			c[k] = v
		}
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return m, true
	}
	return nil, false
}
