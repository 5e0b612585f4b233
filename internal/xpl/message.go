package xpl

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// MaxMessageSize is the largest datagram transports need to accept.
const MaxMessageSize = 1500

// MessageType is the xPL message class carried on the first wire line.
type MessageType int

const (
	// Command asks a device to do something.
	Command MessageType = iota + 1
	// Status reports state, usually in reply to a command.
	Status
	// Trigger reports a change of state.
	Trigger
)

var typeTokens = map[MessageType]string{
	Command: "xpl-cmnd",
	Status:  "xpl-stat",
	Trigger: "xpl-trig",
}

// ParseMessageType maps a wire token to its MessageType.
func ParseMessageType(token string) (MessageType, error) {
	for t, tok := range typeTokens {
		if strings.EqualFold(tok, token) {
			return t, nil
		}
	}
	return 0, invalid("type", token, "unknown message type")
}

func (t MessageType) String() string {
	if tok, ok := typeTokens[t]; ok {
		return tok
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Valid reports whether t is one of the three message types.
func (t MessageType) Valid() bool {
	_, ok := typeTokens[t]
	return ok
}

// Message is one parsed or outgoing xPL message.
type Message struct {
	Type   MessageType
	Hop    int
	Source Address
	Target Address
	Schema Schema
	Body   Body
}

// NewMessage returns a message with hop count 1 and an empty body.
func NewMessage(typ MessageType, source, target Address, schema Schema) *Message {
	return &Message{
		Type:   typ,
		Hop:    1,
		Source: source,
		Target: target,
		Schema: schema,
	}
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	c.Body = m.Body.Clone()
	return &c
}

// Validate checks the required header fields and body pairs.
func (m *Message) Validate() error {
	if !m.Type.Valid() {
		return invalid("type", m.Type.String(), "unknown message type")
	}
	if m.Hop < 1 {
		return invalid("hop", strconv.Itoa(m.Hop), "must be at least 1")
	}
	if m.Source.IsZero() {
		return invalid("source", "", "missing")
	}
	if m.Source.IsWildcard() {
		return invalid("source", m.Source.String(), "wildcard not allowed")
	}
	if m.Target.IsZero() {
		return invalid("target", "", "missing")
	}
	if m.Schema.IsZero() {
		return invalid("schema", "", "missing")
	}
	for _, nv := range m.Body {
		n, err := normalizeName(nv.Name)
		if err != nil {
			return err
		}
		if n != nv.Name {
			return invalid("body.name", nv.Name, "must be lower case")
		}
		if err := validateValue(nv.Value); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes the message in xPL wire format. The message is assumed to be
// valid; call Validate first for messages built by hand.
func (m *Message) Marshal() []byte {
	var b bytes.Buffer
	b.Grow(128 + 24*len(m.Body))
	b.WriteString(m.Type.String())
	b.WriteString("\n{\nhop=")
	b.WriteString(strconv.Itoa(m.Hop))
	b.WriteString("\nsource=")
	b.WriteString(m.Source.String())
	b.WriteString("\ntarget=")
	b.WriteString(m.Target.String())
	b.WriteString("\n}\n")
	b.WriteString(m.Schema.String())
	b.WriteString("\n{\n")
	for _, nv := range m.Body {
		b.WriteString(nv.Name)
		b.WriteByte('=')
		b.WriteString(nv.Value)
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.Bytes()
}

func (m *Message) String() string {
	return fmt.Sprintf("%s hop=%d %s -> %s %s", m.Type, m.Hop, m.Source, m.Target, m.Schema)
}

// lineReader walks the wire lines, accepting \n or \r\n endings.
type lineReader struct {
	lines []string
	pos   int
}

func (r *lineReader) next() (string, bool) {
	if r.pos >= len(r.lines) {
		return "", false
	}
	l := strings.TrimSuffix(r.lines[r.pos], "\r")
	r.pos++
	return l, true
}

func (r *lineReader) expect(want, field string) error {
	l, ok := r.next()
	if !ok {
		return invalid(field, "", "unexpected end of message")
	}
	if l != want {
		return invalid(field, l, fmt.Sprintf("expected %q", want))
	}
	return nil
}

// Parse decodes one xPL message. Any error is a *ValidationError.
func Parse(raw []byte) (*Message, error) {
	for _, c := range raw {
		if c >= 0x80 {
			return nil, invalid("message", "", "non-ASCII input")
		}
	}
	r := &lineReader{lines: strings.Split(string(raw), "\n")}

	tok, ok := r.next()
	if !ok || tok == "" {
		return nil, invalid("header", "", "missing message type")
	}
	typ, err := ParseMessageType(tok)
	if err != nil {
		return nil, err
	}
	m := &Message{Type: typ}

	if err := r.expect("{", "header"); err != nil {
		return nil, err
	}
	if err := parseHeader(r, m); err != nil {
		return nil, err
	}

	line, ok := r.next()
	if !ok {
		return nil, invalid("schema", "", "missing")
	}
	if m.Schema, err = ParseSchema(line); err != nil {
		return nil, err
	}
	if err := r.expect("{", "body"); err != nil {
		return nil, err
	}
	if err := parseBody(r, m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseHeader(r *lineReader, m *Message) error {
	seen := make(map[string]bool, 3)
	for {
		line, ok := r.next()
		if !ok {
			return invalid("header", "", "unterminated header block")
		}
		if line == "}" {
			break
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return invalid("header", line, "missing '=' separator")
		}
		key = strings.ToLower(key)
		if seen[key] {
			return invalid("header", line, "duplicate field")
		}
		seen[key] = true

		var err error
		switch key {
		case "hop":
			m.Hop, err = strconv.Atoi(value)
			if err != nil || m.Hop < 1 {
				return invalid("hop", value, "must be a positive integer")
			}
		case "source":
			m.Source, err = ParseAddress(value)
			if err != nil {
				return prefixed("source", err)
			}
		case "target":
			m.Target, err = ParseTarget(value)
			if err != nil {
				return prefixed("target", err)
			}
		default:
			return invalid("header", key, "unknown field")
		}
	}
	for _, f := range []string{"hop", "source", "target"} {
		if !seen[f] {
			return invalid(f, "", "missing")
		}
	}
	return nil
}

func parseBody(r *lineReader, m *Message) error {
	for {
		line, ok := r.next()
		if !ok || line == "}" || line == "" {
			// End marker, blank line or end of datagram all close the body.
			return nil
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return invalid("body", line, "missing '=' separator")
		}
		if err := m.Body.Add(name, value); err != nil {
			return err
		}
	}
}
