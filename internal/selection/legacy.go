package selection

import "strings"

// TemplateItemsMarker separates template names from item names in the
// selector's summary text, e.g. "Linux by Zabbix agent | Items: CPU load, Free memory".
const TemplateItemsMarker = "| Items:"

// ParseTemplateItems extracts the item names from a summary value. The
// template segment is discarded. Values without the marker come back unchanged.
func ParseTemplateItems(value string) []string {
	_, rest, found := strings.Cut(value, TemplateItemsMarker)
	if !found {
		return []string{value}
	}
	// A repeated marker ends the item segment
	if before, _, again := strings.Cut(rest, TemplateItemsMarker); again {
		rest = before
	}

	var items []string
	for _, name := range strings.Split(rest, ",") {
		if name = strings.TrimSpace(name); name != "" {
			items = append(items, name)
		}
	}
	return items
}
