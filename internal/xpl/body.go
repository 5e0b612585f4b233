package xpl

import "strings"

// Body limits from the xPL protocol.
const (
	MaxNameLen  = 16
	MaxValueLen = 128
)

// NameValue is one body line.
type NameValue struct {
	Name  string
	Value string
}

// Body is the ordered name/value list of a message. Duplicate names are kept
// in insertion order.
type Body []NameValue

// Add appends a pair after validating it.
func (b *Body) Add(name, value string) error {
	n, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	*b = append(*b, NameValue{Name: n, Value: value})
	return nil
}

// Set replaces every pair called name with a single pair, keeping the
// position of the first one, or appends it.
func (b *Body) Set(name, value string) error {
	n, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	out := (*b)[:0]
	placed := false
	for _, nv := range *b {
		if nv.Name != n {
			out = append(out, nv)
			continue
		}
		if !placed {
			out = append(out, NameValue{Name: n, Value: value})
			placed = true
		}
	}
	if !placed {
		out = append(out, NameValue{Name: n, Value: value})
	}
	*b = out
	return nil
}

// Get returns the first value for name.
func (b Body) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, nv := range b {
		if nv.Name == name {
			return nv.Value, true
		}
	}
	return "", false
}

// Values returns every value for name in order.
func (b Body) Values(name string) []string {
	name = strings.ToLower(name)
	var out []string
	for _, nv := range b {
		if nv.Name == name {
			out = append(out, nv.Value)
		}
	}
	return out
}

// Len returns the number of pairs.
func (b Body) Len() int { return len(b) }

// Clone returns an independent copy.
func (b Body) Clone() Body {
	if b == nil {
		return nil
	}
	out := make(Body, len(b))
	copy(out, b)
	return out
}

func normalizeName(name string) (string, error) {
	n, err := normalize("body.name", name, MaxNameLen, true)
	if err != nil {
		return "", err
	}
	return n, nil
}

func validateValue(v string) error {
	if len(v) > MaxValueLen {
		return invalid("body.value", v, "too long")
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7e {
			return invalid("body.value", v, "non-printable or non-ASCII character")
		}
	}
	return nil
}
