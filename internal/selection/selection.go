// Package selection turns loosely-shaped report requests into a canonical filter.
//
// Request forms have accumulated many field names over time (hostids,
// host_ids[], hostsId, ...). Every alias for a field is read, values may be
// comma/newline separated lists or JSON arrays, and the result is an ordered,
// deduplicated token set per entity kind.
package selection

import (
	"net/url"
	"strings"
	"time"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
)

// Field aliases, canonical name first.
var (
	HostIDFields   = []string{"hostids", "host_ids", "hosts_ids", "hostsId", "host_ids[]", "hostids[]", "host_id", "hosts_id"}
	HostNameFields = []string{"hosts", "host_names", "hostnames", "hosts_names", "hosts[]"}
	GroupIDFields  = []string{"hostgroupids", "groupids", "hostgroups", "host_groups", "hostgroups_ids", "groupids[]"}
	ItemKeyFields  = []string{"items_keys", "item_keys", "items", "items[]", "keys", "keys[]", "itemsKeys", "template_and_items_txt"}
	ItemIDFields   = []string{"itemids", "items_id", "item_ids", "itemids[]"}
)

// Raw is a report request as received. Field values are strings for form
// posts and arbitrary decoded JSON values for JSON bodies.
type Raw struct {
	Fields   map[string][]interface{}
	From     string
	To       string
	ClientTZ string
}

// Filter is the canonical selection. Every set is deduplicated and keeps
// first-seen order.
type Filter struct {
	HostIDs   []string
	HostNames []string
	GroupIDs  []string
	ItemKeys  []string
	ItemIDs   []string
	Range     Range
}

// HasHosts reports whether any host source is present.
func (f *Filter) HasHosts() bool {
	return len(f.HostIDs) > 0 || len(f.HostNames) > 0 || len(f.GroupIDs) > 0
}

// HasItems reports whether any item source is present.
func (f *Filter) HasItems() bool {
	return len(f.ItemKeys) > 0 || len(f.ItemIDs) > 0
}

// Options controls normalization.
type Options struct {
	Location *time.Location // monitoring system timezone
	Now      func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.UTC
}

// FromForm builds a Raw from posted form values.
func FromForm(form url.Values) Raw {
	raw := Raw{Fields: make(map[string][]interface{}, len(form))}
	for key, values := range form {
		switch key {
		case "from_dt":
			raw.From = first(values)
		case "to_dt":
			raw.To = first(values)
		case "client_tz":
			raw.ClientTZ = first(values)
		default:
			vals := make([]interface{}, len(values))
			for i, v := range values {
				vals[i] = v
			}
			raw.Fields[key] = vals
		}
	}
	return raw
}

// FromJSON builds a Raw from a decoded JSON object.
func FromJSON(body map[string]interface{}) Raw {
	raw := Raw{Fields: make(map[string][]interface{}, len(body))}
	for key, value := range body {
		switch key {
		case "from_dt":
			raw.From = scalarString(value)
		case "to_dt":
			raw.To = scalarString(value)
		case "client_tz":
			raw.ClientTZ = scalarString(value)
		default:
			raw.Fields[key] = []interface{}{value}
		}
	}
	return raw
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Normalize validates raw and produces the canonical filter. It never
// contacts the monitoring system.
func Normalize(raw Raw, opts Options) (*Filter, error) {
	f := &Filter{
		HostIDs:   collect(raw.Fields, HostIDFields, nil),
		HostNames: collect(raw.Fields, HostNameFields, nil),
		GroupIDs:  collect(raw.Fields, GroupIDFields, nil),
		ItemKeys:  collect(raw.Fields, ItemKeyFields, ParseTemplateItems),
		ItemIDs:   collect(raw.Fields, ItemIDFields, nil),
	}

	// Selectors that post ids into the names field
	if len(f.HostIDs) == 0 && len(f.HostNames) > 0 && allDigits(f.HostNames) {
		f.HostIDs, f.HostNames = f.HostNames, nil
	}

	if !f.HasHosts() || !f.HasItems() {
		return nil, reporterrors.InvalidInput("normalize", describeMissing(f))
	}

	r, err := ResolveRange(raw.From, raw.To, raw.ClientTZ, opts.location(), opts.now())
	if err != nil {
		return nil, err
	}
	f.Range = r
	return f, nil
}

func describeMissing(f *Filter) string {
	var missing []string
	if !f.HasHosts() {
		missing = append(missing, "hosts")
	}
	if !f.HasItems() {
		missing = append(missing, "items")
	}
	return "missing " + strings.Join(missing, " and ")
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allDigits(values []string) bool {
	for _, v := range values {
		if !IsDigits(v) {
			return false
		}
	}
	return len(values) > 0
}
