package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgecli/xplnet/internal/xpl"
)

// Config protocol body fields.
const (
	fieldNewConf  = "newconf"
	fieldReconf   = "reconf"
	fieldOption   = "option"
	fieldGroup    = "group"
	fieldFilter   = "filter"
	groupPrefix   = xpl.GroupVendor + "-" + xpl.GroupDevice + "."
	maxConfigured = 16
)

// MaxGroups and MaxFilters bound a device's group memberships and filters.
const (
	MaxGroups  = maxConfigured
	MaxFilters = maxConfigured
)

// ConfigValues is the configuration a configurable device receives through
// config.response or from persisted state. A zero Interval keeps the
// device's current interval.
type ConfigValues struct {
	Instance string
	Interval time.Duration
	Groups   []string
	Filters  []xpl.Filter
}

// ParseConfigValues reads a config.response body. Empty group and filter
// entries clear the list and are skipped.
func ParseConfigValues(body xpl.Body) (ConfigValues, error) {
	var v ConfigValues
	v.Instance, _ = body.Get(fieldNewConf)
	if s, ok := body.Get(xpl.FieldInterval); ok && s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return ConfigValues{}, fmt.Errorf("interval %q: must be a positive number of seconds", s)
		}
		v.Interval = time.Duration(n) * time.Second
	}
	for _, g := range body.Values(fieldGroup) {
		if g == "" {
			continue
		}
		name, err := normalizeGroup(g)
		if err != nil {
			return ConfigValues{}, err
		}
		v.Groups = append(v.Groups, name)
	}
	for _, f := range body.Values(fieldFilter) {
		if f == "" {
			continue
		}
		flt, err := xpl.ParseFilter(f)
		if err != nil {
			return ConfigValues{}, err
		}
		v.Filters = append(v.Filters, flt)
	}
	return v, nil
}

// normalizeGroup accepts "name" or "xpl-group.name" and returns the name.
func normalizeGroup(g string) (string, error) {
	g = strings.TrimPrefix(strings.ToLower(g), groupPrefix)
	t, err := xpl.GroupTarget(g)
	if err != nil {
		return "", err
	}
	return t.Instance(), nil
}

// Body renders v the way config.current reports it.
func (v ConfigValues) Body() xpl.Body {
	body := xpl.Body{
		{Name: fieldNewConf, Value: v.Instance},
		{Name: xpl.FieldInterval, Value: strconv.Itoa(int(v.Interval / time.Second))},
	}
	if len(v.Groups) == 0 {
		body = append(body, xpl.NameValue{Name: fieldGroup})
	}
	for _, g := range v.Groups {
		body = append(body, xpl.NameValue{Name: fieldGroup, Value: groupPrefix + g})
	}
	if len(v.Filters) == 0 {
		body = append(body, xpl.NameValue{Name: fieldFilter})
	}
	for _, f := range v.Filters {
		body = append(body, xpl.NameValue{Name: fieldFilter, Value: f.String()})
	}
	return body
}

// configListBody advertises the items a configurable device accepts.
func configListBody() xpl.Body {
	return xpl.Body{
		{Name: fieldReconf, Value: fieldNewConf},
		{Name: fieldOption, Value: xpl.FieldInterval},
		{Name: fieldOption, Value: fieldGroup + "[" + strconv.Itoa(MaxGroups) + "]"},
		{Name: fieldOption, Value: fieldFilter + "[" + strconv.Itoa(MaxFilters) + "]"},
	}
}
