// Package resolver maps a canonical selection to concrete (host, item) chart targets.
package resolver

import (
	"context"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/selection"
	"github.com/rcourtman/zbxreport/pkg/zabbix"
)

// API is the subset of the monitoring client the resolver needs.
type API interface {
	HostsByTechnicalName(ctx context.Context, names []string) ([]zabbix.Host, error)
	HostsByNamePattern(ctx context.Context, patterns []string) ([]zabbix.Host, error)
	HostIDsByGroupIDs(ctx context.Context, groupIDs []string) ([]string, error)
	HostsByIDs(ctx context.Context, hostIDs []string) ([]zabbix.Host, error)
	ItemByID(ctx context.Context, itemID string) (*zabbix.Item, error)
	ItemsByHostFilter(ctx context.Context, hostID, field string, values []string) ([]zabbix.Item, error)
}

// Target is one chart to render.
type Target struct {
	HostID   string
	HostName string
	ItemID   string
	Title    string
}

// Resolution is the result of resolving a filter.
type Resolution struct {
	HostIDs []string
	// HostNames maps host id to display name for every resolved host.
	HostNames map[string]string
	Targets   []Target
}

// Resolver resolves selections against the API. A Resolver is cheap and
// holds no state between calls.
type Resolver struct {
	api API
}

// New creates a resolver backed by api.
func New(api API) *Resolver {
	return &Resolver{api: api}
}

// Resolve returns chart targets for f: direct item ids first, then the
// matching items of each host in host order.
func (r *Resolver) Resolve(ctx context.Context, f *selection.Filter) (*Resolution, error) {
	logger := logging.FromContext(ctx)

	hostIDs, err := r.hostIDs(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(hostIDs) == 0 && len(f.ItemIDs) == 0 {
		return nil, reporterrors.New(reporterrors.KindNoHostsFound, "resolve_hosts", "")
	}

	res := &Resolution{HostIDs: hostIDs, HostNames: make(map[string]string, len(hostIDs))}
	if len(hostIDs) > 0 {
		hosts, err := r.api.HostsByIDs(ctx, hostIDs)
		if err != nil {
			return nil, reporterrors.WrapUpstream("host.get", err)
		}
		for _, h := range hosts {
			res.HostNames[h.HostID] = h.DisplayName()
		}
	}

	for _, id := range f.ItemIDs {
		if !selection.IsDigits(id) {
			logger.Debug().Str("itemid", id).Msg("Skipping non-numeric item id")
			continue
		}
		target, ok := r.directTarget(ctx, id, res.HostNames)
		if ok {
			res.Targets = append(res.Targets, target)
		}
	}

	if len(f.ItemKeys) > 0 {
		for _, hostID := range hostIDs {
			hostName, ok := res.HostNames[hostID]
			if !ok || hostName == "" {
				hostName = "hostid:" + hostID
			}
			items, err := r.itemsForHost(ctx, hostID, f.ItemKeys)
			if err != nil {
				logger.Warn().Err(err).Str("host", hostName).Msg("Item lookup failed, skipping host")
				continue
			}
			if len(items) == 0 {
				logger.Info().Str("host", hostName).Strs("items", f.ItemKeys).Msg("No matching items on host")
				continue
			}
			for _, item := range items {
				res.Targets = append(res.Targets, Target{
					HostID:   hostID,
					HostName: hostName,
					ItemID:   item.ItemID,
					Title:    itemTitle(item),
				})
			}
		}
	}

	logger.Debug().
		Int("hosts", len(hostIDs)).
		Int("targets", len(res.Targets)).
		Msg("Resolved chart targets")
	return res, nil
}

// hostIDs merges explicit ids, name lookups and group membership.
func (r *Resolver) hostIDs(ctx context.Context, f *selection.Filter) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, id := range f.HostIDs {
		if selection.IsDigits(id) {
			add(id)
		}
	}

	if len(f.HostNames) > 0 {
		hosts, err := firstNonEmpty(ctx, []strategy[zabbix.Host]{
			{name: "exact_host", run: func(ctx context.Context) ([]zabbix.Host, error) {
				return r.api.HostsByTechnicalName(ctx, f.HostNames)
			}},
			{name: "wildcard_name", run: func(ctx context.Context) ([]zabbix.Host, error) {
				return r.api.HostsByNamePattern(ctx, f.HostNames)
			}},
		})
		if err != nil {
			return nil, reporterrors.WrapUpstream("host.get", err)
		}
		for _, h := range hosts {
			add(h.HostID)
		}
	}

	if len(f.GroupIDs) > 0 {
		groupHosts, err := r.api.HostIDsByGroupIDs(ctx, f.GroupIDs)
		if err != nil {
			return nil, reporterrors.WrapUpstream("host.get", err)
		}
		for _, id := range groupHosts {
			add(id)
		}
	}
	return ids, nil
}

func (r *Resolver) directTarget(ctx context.Context, itemID string, hostNames map[string]string) (Target, bool) {
	logger := logging.FromContext(ctx)
	item, err := r.api.ItemByID(ctx, itemID)
	if err != nil {
		logger.Warn().Err(err).Str("itemid", itemID).Msg("Item lookup failed, skipping item")
		return Target{}, false
	}
	if item == nil {
		logger.Info().Str("itemid", itemID).Msg("Item not found")
		return Target{}, false
	}

	var hostName string
	switch name := hostNames[item.HostID]; {
	case len(item.Hosts) > 0 && item.Hosts[0].Host != "":
		hostName = item.Hosts[0].Host
	case name != "":
		hostName = name
	default:
		hostName = "host"
	}

	hostID := item.HostID
	if hostID == "" && len(item.Hosts) > 0 {
		hostID = item.Hosts[0].HostID
	}
	return Target{HostID: hostID, HostName: hostName, ItemID: itemID, Title: itemTitle(*item)}, true
}

// itemsForHost matches tokens against both item names and keys. Name
// matches come first.
func (r *Resolver) itemsForHost(ctx context.Context, hostID string, tokens []string) ([]zabbix.Item, error) {
	return union(ctx, []strategy[zabbix.Item]{
		{name: "item_name", run: func(ctx context.Context) ([]zabbix.Item, error) {
			return r.api.ItemsByHostFilter(ctx, hostID, "name", tokens)
		}},
		{name: "item_key", run: func(ctx context.Context) ([]zabbix.Item, error) {
			return r.api.ItemsByHostFilter(ctx, hostID, "key_", tokens)
		}},
	}, func(item zabbix.Item) string { return item.ItemID })
}

func itemTitle(item zabbix.Item) string {
	switch {
	case item.Name != "":
		return item.Name
	case item.Key != "":
		return item.Key
	default:
		return "item:" + item.ItemID
	}
}
