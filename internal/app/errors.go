package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edgecli/xplnet/internal/xpl"
)

// ErrConfiguration matches every *ConfigurationError.
var ErrConfiguration = errors.New("app: configuration incomplete")

// ConfigurationError reports a configurable device whose configuration is
// missing required items or carries unusable values. The device stays in
// Configuring.
type ConfigurationError struct {
	Device  xpl.Address
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configure %s", e.Device)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
