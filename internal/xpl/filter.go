package xpl

import (
	"strings"
)

// Filter selects messages by msgtype.vendor.device.instance.class.type, any
// field of which may be "*".
type Filter struct {
	MsgType  string
	Vendor   string
	Device   string
	Instance string
	Class    string
	Type     string
}

// ParseFilter parses the six dot separated filter fields.
func ParseFilter(s string) (Filter, error) {
	parts := strings.Split(strings.ToLower(s), ".")
	if len(parts) != 6 {
		return Filter{}, invalid("filter", s, "expected msgtype.vendor.device.instance.class.type")
	}
	if parts[0] != Wildcard {
		if _, err := ParseMessageType(parts[0]); err != nil {
			return Filter{}, invalid("filter", s, "unknown message type")
		}
	}
	limits := []int{0, MaxVendorLen, MaxDeviceLen, MaxInstanceLen, MaxClassLen, MaxTypeLen}
	for i := 1; i < 6; i++ {
		if parts[i] == Wildcard {
			continue
		}
		if _, err := normalizeToken("filter", parts[i], limits[i]); err != nil {
			return Filter{}, invalid("filter", s, "invalid field "+parts[i])
		}
	}
	return Filter{
		MsgType:  parts[0],
		Vendor:   parts[1],
		Device:   parts[2],
		Instance: parts[3],
		Class:    parts[4],
		Type:     parts[5],
	}, nil
}

func fieldMatch(pattern, v string) bool {
	return pattern == Wildcard || pattern == v
}

// Match reports whether m passes the filter. Source address and schema are
// compared.
func (f Filter) Match(m *Message) bool {
	return fieldMatch(f.MsgType, m.Type.String()) &&
		fieldMatch(f.Vendor, m.Source.Vendor()) &&
		fieldMatch(f.Device, m.Source.Device()) &&
		fieldMatch(f.Instance, m.Source.Instance()) &&
		fieldMatch(f.Class, m.Schema.Class()) &&
		fieldMatch(f.Type, m.Schema.Type())
}

func (f Filter) String() string {
	return strings.Join([]string{f.MsgType, f.Vendor, f.Device, f.Instance, f.Class, f.Type}, ".")
}
