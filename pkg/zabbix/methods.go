package zabbix

import (
	"context"
	"fmt"
)

// HostsByTechnicalName returns hosts whose technical name equals one of names.
func (c *Client) HostsByTechnicalName(ctx context.Context, names []string) ([]Host, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var hosts []Host
	err := c.Call(ctx, "host.get", map[string]interface{}{
		"output": []string{"hostid", "host", "name"},
		"filter": map[string]interface{}{"host": names},
	}, &hosts)
	return hosts, err
}

// HostsByNamePattern runs a wildcard search on the visible name.
func (c *Client) HostsByNamePattern(ctx context.Context, patterns []string) ([]Host, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	var hosts []Host
	err := c.Call(ctx, "host.get", map[string]interface{}{
		"output":                 []string{"hostid", "host", "name"},
		"search":                 map[string]interface{}{"name": patterns},
		"searchWildcardsEnabled": true,
		"searchByAny":            true,
	}, &hosts)
	return hosts, err
}

// HostIDsByGroupIDs returns the deduplicated ids of hosts in any of groupIDs.
func (c *Client) HostIDsByGroupIDs(ctx context.Context, groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var hosts []Host
	if err := c.Call(ctx, "host.get", map[string]interface{}{
		"output":   []string{"hostid"},
		"groupids": groupIDs,
	}, &hosts); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(hosts))
	ids := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h.HostID == "" {
			continue
		}
		if _, ok := seen[h.HostID]; ok {
			continue
		}
		seen[h.HostID] = struct{}{}
		ids = append(ids, h.HostID)
	}
	return ids, nil
}

// HostsByIDs returns basic host records sorted by technical name.
func (c *Client) HostsByIDs(ctx context.Context, hostIDs []string) ([]Host, error) {
	if len(hostIDs) == 0 {
		return nil, nil
	}
	var hosts []Host
	err := c.Call(ctx, "host.get", map[string]interface{}{
		"output":    []string{"hostid", "host", "name"},
		"hostids":   hostIDs,
		"sortfield": "host",
	}, &hosts)
	return hosts, err
}

// ItemByID fetches one item with its owning host.
func (c *Client) ItemByID(ctx context.Context, itemID string) (*Item, error) {
	var items []Item
	if err := c.Call(ctx, "item.get", map[string]interface{}{
		"itemids":     []string{itemID},
		"output":      []string{"itemid", "name", "key_", "hostid"},
		"selectHosts": []string{"host", "name", "hostid"},
	}, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ItemsByHostFilter returns items on hostID whose field (name or key_)
// exactly matches one of values.
func (c *Client) ItemsByHostFilter(ctx context.Context, hostID, field string, values []string) ([]Item, error) {
	switch field {
	case "name", "key_":
	default:
		return nil, fmt.Errorf("unsupported item filter field %q", field)
	}
	if hostID == "" || len(values) == 0 {
		return nil, nil
	}
	var items []Item
	err := c.Call(ctx, "item.get", map[string]interface{}{
		"output":    []string{"itemid", "name", "key_"},
		"hostids":   hostID,
		"filter":    map[string]interface{}{field: values},
		"sortfield": "name",
	}, &items)
	return items, err
}

// Hosts lists every host visible to the user, sorted by name.
func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	var hosts []Host
	err := c.Call(ctx, "host.get", map[string]interface{}{
		"output":    []string{"hostid", "name"},
		"sortfield": "name",
	}, &hosts)
	return hosts, err
}

// HostGroups lists host groups sorted by name.
func (c *Client) HostGroups(ctx context.Context) ([]HostGroup, error) {
	var groups []HostGroup
	err := c.Call(ctx, "hostgroup.get", map[string]interface{}{
		"output":    []string{"groupid", "name"},
		"sortfield": "name",
	}, &groups)
	return groups, err
}

// Templates lists templates sorted by name.
func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var templates []Template
	err := c.Call(ctx, "template.get", map[string]interface{}{
		"output":    []string{"templateid", "host", "name"},
		"sortfield": "name",
	}, &templates)
	return templates, err
}

// ItemsByTemplates lists the items defined on templateIDs.
func (c *Client) ItemsByTemplates(ctx context.Context, templateIDs []string) ([]Item, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	var items []Item
	err := c.Call(ctx, "item.get", map[string]interface{}{
		"output":      []string{"itemid", "name", "key_", "templateid"},
		"templateids": templateIDs,
		"sortfield":   "name",
	}, &items)
	return items, err
}

// APIVersion returns the server API version. The call is unauthenticated.
func (c *Client) APIVersion(ctx context.Context) (string, error) {
	var version string
	err := c.do(ctx, "apiinfo.version", []string{}, "", &version)
	return version, err
}
