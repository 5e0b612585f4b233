// Package xpl implements the xPL message model: addresses, schemas, the ordered
// name/value body and the text wire format.
package xpl

import (
	"strings"
)

// Component length limits from the xPL protocol.
const (
	MaxVendorLen   = 8
	MaxDeviceLen   = 8
	MaxInstanceLen = 16
	MaxClassLen    = 8
	MaxTypeLen     = 8
)

// Wildcard is the instance (or whole target) that matches everything.
const Wildcard = "*"

// GroupVendor and GroupDevice form the reserved xpl-group.<name> target.
const (
	GroupVendor = "xpl"
	GroupDevice = "group"
)

// Address identifies an xPL endpoint as vendor-device.instance.
// The zero value is not a valid address.
type Address struct {
	vendor   string
	device   string
	instance string
}

// Broadcast is the "*" target.
var Broadcast = Address{instance: Wildcard}

// normalizeToken copies s left to right, lower-casing letters. The first
// character outside [A-Za-z0-9-] aborts the whole token and nothing is returned.
func normalizeToken(field, s string, max int) (string, error) {
	return normalize(field, s, max, true)
}

// normalizeVendor is normalizeToken without '-', which separates vendor from
// device on the wire.
func normalizeVendor(s string) (string, error) {
	return normalize("vendor", s, MaxVendorLen, false)
}

func normalize(field, s string, max int, hyphen bool) (string, error) {
	if s == "" {
		return "", invalid(field, s, "empty")
	}
	if len(s) > max {
		return "", invalid(field, s, "too long")
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + 'a' - 'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-' && hyphen:
			b.WriteByte(c)
		default:
			return "", invalid(field, s, "disallowed character")
		}
	}
	return b.String(), nil
}

// NewAddress builds a concrete address. The instance may not be a wildcard.
func NewAddress(vendor, device, instance string) (Address, error) {
	v, err := normalizeVendor(vendor)
	if err != nil {
		return Address{}, err
	}
	d, err := normalizeToken("device", device, MaxDeviceLen)
	if err != nil {
		return Address{}, err
	}
	i, err := normalizeToken("instance", instance, MaxInstanceLen)
	if err != nil {
		return Address{}, err
	}
	return Address{vendor: v, device: d, instance: i}, nil
}

// MustAddress is NewAddress for constants in tests and defaults.
func MustAddress(vendor, device, instance string) Address {
	a, err := NewAddress(vendor, device, instance)
	if err != nil {
		panic(err)
	}
	return a
}

// NewGroupAddress builds vendor-device.* which targets every instance.
func NewGroupAddress(vendor, device string) (Address, error) {
	v, err := normalizeVendor(vendor)
	if err != nil {
		return Address{}, err
	}
	d, err := normalizeToken("device", device, MaxDeviceLen)
	if err != nil {
		return Address{}, err
	}
	return Address{vendor: v, device: d, instance: Wildcard}, nil
}

// GroupTarget returns xpl-group.<name>.
func GroupTarget(name string) (Address, error) {
	n, err := normalizeToken("group", name, MaxInstanceLen)
	if err != nil {
		return Address{}, err
	}
	return Address{vendor: GroupVendor, device: GroupDevice, instance: n}, nil
}

// ParseAddress parses a concrete vendor-device.instance string.
func ParseAddress(s string) (Address, error) {
	a, err := ParseTarget(s)
	if err != nil {
		return Address{}, err
	}
	if a.IsWildcard() {
		return Address{}, invalid("address", s, "wildcard not allowed")
	}
	return a, nil
}

// ParseTarget parses a target, which may also be "*" or vendor-device.*.
func ParseTarget(s string) (Address, error) {
	if s == Wildcard {
		return Broadcast, nil
	}
	dash := strings.IndexByte(s, '-')
	dot := strings.IndexByte(s, '.')
	if dash <= 0 || dot <= dash+1 || dot == len(s)-1 {
		return Address{}, invalid("address", s, "expected vendor-device.instance")
	}
	vendor, device, instance := s[:dash], s[dash+1:dot], s[dot+1:]
	if instance == Wildcard {
		return NewGroupAddress(vendor, device)
	}
	return NewAddress(vendor, device, instance)
}

// Vendor returns the vendor id.
func (a Address) Vendor() string { return a.vendor }

// Device returns the device id.
func (a Address) Device() string { return a.device }

// Instance returns the instance id, "*" for wildcards.
func (a Address) Instance() string { return a.instance }

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a == Address{} }

// IsBroadcast reports whether a is the "*" target.
func (a Address) IsBroadcast() bool { return a == Broadcast }

// IsWildcard reports whether a is "*" or vendor-device.*.
func (a Address) IsWildcard() bool { return a.instance == Wildcard }

// IsGroup reports whether a is an xpl-group.<name> target.
func (a Address) IsGroup() bool {
	return a.vendor == GroupVendor && a.device == GroupDevice && a.instance != Wildcard
}

// Matches reports whether a message targeted at a should reach the concrete
// address other.
func (a Address) Matches(other Address) bool {
	switch {
	case a.IsBroadcast():
		return true
	case a.IsWildcard():
		return a.vendor == other.vendor && a.device == other.device
	default:
		return a == other
	}
}

func (a Address) String() string {
	if a.IsBroadcast() {
		return Wildcard
	}
	if a.IsZero() {
		return ""
	}
	return a.vendor + "-" + a.device + "." + a.instance
}

// WithInstance returns a copy of a with a new instance id.
func (a Address) WithInstance(instance string) (Address, error) {
	return NewAddress(a.vendor, a.device, instance)
}
