package message

import "strings"

// headerField keeps the original spelling of the first occurrence of a name
// so responses can echo headers back exactly as they were added.
type headerField struct {
	lower string // lowercased name, used for lookup
	name  string // original casing of the first occurrence
	value string
}

// Headers is an insertion-ordered header list. Lookup is case-insensitive.
// Set-Cookie may repeat; setting any other name replaces the previous value
// while keeping the original casing and position.
type Headers struct {
	fields []headerField
}

const setCookieLower = "set-cookie"

// Set inserts or replaces a header. Set-Cookie always appends.
func (h *Headers) Set(name, value string) {
	lower := strings.ToLower(name)
	if lower != setCookieLower {
		for i := range h.fields {
			if h.fields[i].lower == lower {
				h.fields[i].value = value
				return
			}
		}
	}
	h.fields = append(h.fields, headerField{lower: lower, name: name, value: value})
}

// Get returns the value of the first field with the given name.
func (h *Headers) Get(name string) (string, bool) {
	lower := strings.ToLower(name)
	for i := range h.fields {
		if h.fields[i].lower == lower {
			return h.fields[i].value, true
		}
	}
	return "", false
}

// Values returns every value recorded for name, in insertion order.
// Only Set-Cookie can yield more than one.
func (h *Headers) Values(name string) []string {
	lower := strings.ToLower(name)
	var out []string
	for i := range h.fields {
		if h.fields[i].lower == lower {
			out = append(out, h.fields[i].value)
		}
	}
	return out
}

// Del removes every field with the given name.
func (h *Headers) Del(name string) {
	lower := strings.ToLower(name)
	kept := h.fields[:0]
	for _, f := range h.fields {
		if f.lower != lower {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len returns the number of fields.
func (h *Headers) Len() int { return len(h.fields) }

// Each calls fn for every field in insertion order with the original casing.
func (h *Headers) Each(fn func(name, value string)) {
	for i := range h.fields {
		fn(h.fields[i].name, h.fields[i].value)
	}
}

// Reset empties the list, keeping capacity for reuse across keep-alive cycles.
func (h *Headers) Reset() { h.fields = h.fields[:0] }
