package xpl

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Heartbeat body fields.
const (
	FieldInterval = "interval"
	FieldPort     = "port"
	FieldRemoteIP = "remote-ip"
)

// HeartbeatInfo carries the optional transport fields of a heartbeat.
type HeartbeatInfo struct {
	Port     int
	RemoteIP string
}

// NewHeartbeat builds a broadcast heartbeat status message. A zero interval
// marks a goodbye.
func NewHeartbeat(source Address, schema Schema, interval time.Duration, info HeartbeatInfo) *Message {
	m := NewMessage(Status, source, Broadcast, schema)
	m.Body = append(m.Body, NameValue{Name: FieldInterval, Value: strconv.Itoa(int(interval / time.Second))})
	if info.Port > 0 {
		m.Body = append(m.Body, NameValue{Name: FieldPort, Value: strconv.Itoa(info.Port)})
	}
	if info.RemoteIP != "" {
		m.Body = append(m.Body, NameValue{Name: FieldRemoteIP, Value: info.RemoteIP})
	}
	return m
}

// IsHeartbeat reports whether m is a hbeat.* or config.* announcement
// (app or end).
func IsHeartbeat(m *Message) bool {
	c, t := m.Schema.Class(), m.Schema.Type()
	return (c == "hbeat" || c == "config") && (t == "app" || t == "end")
}

// IsGoodbye reports whether m is a heartbeat with zero remaining lifetime.
func IsGoodbye(m *Message) bool {
	if !IsHeartbeat(m) {
		return false
	}
	if m.Schema.Type() == "end" {
		return true
	}
	d, ok := HeartbeatInterval(m)
	return ok && d == 0
}

// MaxHeartbeatInterval caps announced intervals; longer ones are clamped.
const MaxHeartbeatInterval = 24 * time.Hour

// HeartbeatInterval returns the interval field in seconds as a duration,
// clamped to MaxHeartbeatInterval.
func HeartbeatInterval(m *Message) (time.Duration, bool) {
	v, ok := m.Body.Get(FieldInterval)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return MaxHeartbeatInterval, true
	}
	if err != nil {
		return 0, false
	}
	if n > uint64(MaxHeartbeatInterval/time.Second) {
		return MaxHeartbeatInterval, true
	}
	return time.Duration(n) * time.Second, true
}

// HeartbeatTransportAddr returns remote-ip:port when both fields are present.
func HeartbeatTransportAddr(m *Message) (string, bool) {
	ip, ok := m.Body.Get(FieldRemoteIP)
	if !ok || net.ParseIP(ip) == nil {
		return "", false
	}
	p, ok := m.Body.Get(FieldPort)
	if !ok {
		return "", false
	}
	if n, err := strconv.Atoi(p); err != nil || n <= 0 || n > 65535 {
		return "", false
	}
	return net.JoinHostPort(ip, p), true
}
