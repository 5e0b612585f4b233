package xpl

import "strings"

// Schema classifies the payload of a message as class.type.
type Schema struct {
	class string
	typ   string
}

// Well known schemas used by the lifecycle, hub and bridge.
var (
	SchemaHeartbeat        = Schema{class: "hbeat", typ: "app"}
	SchemaHeartbeatEnd     = Schema{class: "hbeat", typ: "end"}
	SchemaHeartbeatRequest = Schema{class: "hbeat", typ: "request"}
	SchemaConfigHeartbeat  = Schema{class: "config", typ: "app"}
	SchemaConfigEnd        = Schema{class: "config", typ: "end"}
	SchemaConfigList       = Schema{class: "config", typ: "list"}
	SchemaConfigCurrent    = Schema{class: "config", typ: "current"}
	SchemaConfigResponse   = Schema{class: "config", typ: "response"}
)

// NewSchema validates and lower-cases class and type.
func NewSchema(class, typ string) (Schema, error) {
	c, err := normalizeToken("schema.class", class, MaxClassLen)
	if err != nil {
		return Schema{}, err
	}
	t, err := normalizeToken("schema.type", typ, MaxTypeLen)
	if err != nil {
		return Schema{}, err
	}
	return Schema{class: c, typ: t}, nil
}

// MustSchema panics on an invalid schema.
func MustSchema(class, typ string) Schema {
	s, err := NewSchema(class, typ)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseSchema parses "class.type".
func ParseSchema(s string) (Schema, error) {
	class, typ, ok := strings.Cut(s, ".")
	if !ok {
		return Schema{}, invalid("schema", s, "expected class.type")
	}
	return NewSchema(class, typ)
}

// Class returns the schema class.
func (s Schema) Class() string { return s.class }

// Type returns the schema type.
func (s Schema) Type() string { return s.typ }

// IsZero reports whether s is unset.
func (s Schema) IsZero() bool { return s == Schema{} }

func (s Schema) String() string {
	if s.IsZero() {
		return ""
	}
	return s.class + "." + s.typ
}
