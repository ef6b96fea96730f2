package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/selection"
	"github.com/rcourtman/zbxreport/pkg/zabbix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	exact    map[string]zabbix.Host
	pattern  map[string]zabbix.Host
	groups   map[string][]string
	hosts    map[string]zabbix.Host
	items    map[string]zabbix.Item
	byName   map[string][]zabbix.Item // host id -> items matched by name
	byKey    map[string][]zabbix.Item
	failHost map[string]bool
	hostsErr error

	calls []string
}

func (f *fakeAPI) HostsByTechnicalName(_ context.Context, names []string) ([]zabbix.Host, error) {
	f.calls = append(f.calls, "exact")
	var out []zabbix.Host
	for _, n := range names {
		if h, ok := f.exact[n]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeAPI) HostsByNamePattern(_ context.Context, patterns []string) ([]zabbix.Host, error) {
	f.calls = append(f.calls, "pattern")
	var out []zabbix.Host
	for _, p := range patterns {
		if h, ok := f.pattern[p]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeAPI) HostIDsByGroupIDs(_ context.Context, groupIDs []string) ([]string, error) {
	f.calls = append(f.calls, "groups")
	var out []string
	for _, g := range groupIDs {
		out = append(out, f.groups[g]...)
	}
	return out, nil
}

func (f *fakeAPI) HostsByIDs(_ context.Context, ids []string) ([]zabbix.Host, error) {
	f.calls = append(f.calls, "hosts")
	if f.hostsErr != nil {
		return nil, f.hostsErr
	}
	var out []zabbix.Host
	for _, id := range ids {
		if h, ok := f.hosts[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeAPI) ItemByID(_ context.Context, id string) (*zabbix.Item, error) {
	f.calls = append(f.calls, "item:"+id)
	if item, ok := f.items[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (f *fakeAPI) ItemsByHostFilter(_ context.Context, hostID, field string, _ []string) ([]zabbix.Item, error) {
	if f.failHost[hostID] {
		return nil, errors.New("boom")
	}
	if field == "name" {
		return f.byName[hostID], nil
	}
	return f.byKey[hostID], nil
}

func TestResolveMergesHostSourcesInOrder(t *testing.T) {
	api := &fakeAPI{
		exact:  map[string]zabbix.Host{"web01": {HostID: "20"}},
		groups: map[string][]string{"4": {"30", "10"}},
		hosts: map[string]zabbix.Host{
			"10": {HostID: "10", Host: "db01"},
			"20": {HostID: "20", Host: "web01"},
			"30": {HostID: "30", Name: "Edge Router"},
		},
	}
	r := New(api)

	res, err := r.Resolve(context.Background(), &selection.Filter{
		HostIDs:   []string{"10", "abc"},
		HostNames: []string{"web01"},
		GroupIDs:  []string{"4"},
		ItemIDs:   []string{"1"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"10", "20", "30"}, res.HostIDs)
	assert.Equal(t, "Edge Router", res.HostNames["30"])
	assert.NotContains(t, api.calls, "pattern", "exact match must short-circuit the wildcard search")
}

func TestResolveFallsBackToWildcardSearch(t *testing.T) {
	api := &fakeAPI{
		pattern: map[string]zabbix.Host{"web*": {HostID: "21", Host: "web02"}},
		hosts:   map[string]zabbix.Host{"21": {HostID: "21", Host: "web02"}},
		byName:  map[string][]zabbix.Item{"21": {{ItemID: "500", Name: "CPU load"}}},
	}
	res, err := New(api).Resolve(context.Background(), &selection.Filter{
		HostNames: []string{"web*"},
		ItemKeys:  []string{"CPU load"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"exact", "pattern", "hosts"}, api.calls)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, Target{HostID: "21", HostName: "web02", ItemID: "500", Title: "CPU load"}, res.Targets[0])
}

func TestResolveNoHostsFound(t *testing.T) {
	_, err := New(&fakeAPI{}).Resolve(context.Background(), &selection.Filter{
		HostNames: []string{"ghost"},
		ItemKeys:  []string{"x"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, reporterrors.ErrNoHostsFound)
}

func TestResolveKeepsUpstreamStatus(t *testing.T) {
	api := &fakeAPI{hostsErr: fmt.Errorf("host.get: %w", &zabbix.HTTPError{StatusCode: 502, Body: "Bad Gateway"})}
	_, err := New(api).Resolve(context.Background(), &selection.Filter{
		HostIDs: []string{"10"},
		ItemIDs: []string{"1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, reporterrors.ErrUpstream)

	var repErr *reporterrors.ReportError
	require.True(t, errors.As(err, &repErr))
	assert.Equal(t, 502, repErr.StatusCode)
}

func TestResolveDirectItemsWithoutHosts(t *testing.T) {
	api := &fakeAPI{
		items: map[string]zabbix.Item{
			"7": {ItemID: "7", Key: "net.if.in[eth0]", Hosts: []zabbix.Host{{HostID: "3", Host: "fw01"}}},
			"8": {ItemID: "8"},
		},
	}
	res, err := New(api).Resolve(context.Background(), &selection.Filter{
		GroupIDs: []string{"99"},
		ItemIDs:  []string{"7", "x1", "8", "9"},
	})
	require.NoError(t, err)

	require.Len(t, res.Targets, 2)
	assert.Equal(t, Target{HostID: "3", HostName: "fw01", ItemID: "7", Title: "net.if.in[eth0]"}, res.Targets[0])
	assert.Equal(t, Target{HostName: "host", ItemID: "8", Title: "item:8"}, res.Targets[1])
	assert.NotContains(t, api.calls, "item:x1")
}

func TestResolveUnionsNameAndKeyMatches(t *testing.T) {
	api := &fakeAPI{
		hosts: map[string]zabbix.Host{"1": {HostID: "1", Host: "a"}, "2": {HostID: "2", Host: "b"}, "3": {HostID: "3"}},
		byName: map[string][]zabbix.Item{
			"1": {{ItemID: "11", Name: "CPU"}, {ItemID: "12", Name: "Memory"}},
		},
		byKey: map[string][]zabbix.Item{
			"1": {{ItemID: "12", Name: "Memory"}, {ItemID: "13", Key: "vfs.fs.size"}},
			"3": {{ItemID: "31", Name: "Disk"}},
		},
		failHost: map[string]bool{"2": true},
	}
	res, err := New(api).Resolve(context.Background(), &selection.Filter{
		HostIDs:  []string{"1", "2", "3"},
		ItemKeys: []string{"CPU", "Memory", "vfs.fs.size", "Disk"},
	})
	require.NoError(t, err)

	var ids []string
	for _, tgt := range res.Targets {
		ids = append(ids, tgt.ItemID)
	}
	assert.Equal(t, []string{"11", "12", "13", "31"}, ids)
	assert.Equal(t, "hostid:3", res.Targets[3].HostName)
	assert.Equal(t, "vfs.fs.size", res.Targets[2].Title)
}

func TestResolveDirectItemsPrecedeHostItems(t *testing.T) {
	api := &fakeAPI{
		hosts:  map[string]zabbix.Host{"1": {HostID: "1", Host: "a"}},
		items:  map[string]zabbix.Item{"99": {ItemID: "99", Name: "Direct", HostID: "1"}},
		byName: map[string][]zabbix.Item{"1": {{ItemID: "11", Name: "CPU"}}},
	}
	res, err := New(api).Resolve(context.Background(), &selection.Filter{
		HostIDs:  []string{"1"},
		ItemKeys: []string{"CPU"},
		ItemIDs:  []string{"99"},
	})
	require.NoError(t, err)
	require.Len(t, res.Targets, 2)
	assert.Equal(t, "99", res.Targets[0].ItemID)
	assert.Equal(t, "a", res.Targets[0].HostName, "host name falls back to the resolved host map")
	assert.Equal(t, "11", res.Targets[1].ItemID)
}

func TestFirstNonEmptyReturnsLastErrorWhenAllFail(t *testing.T) {
	_, err := firstNonEmpty(context.Background(), []strategy[string]{
		{name: "a", run: func(context.Context) ([]string, error) { return nil, errors.New("first") }},
		{name: "b", run: func(context.Context) ([]string, error) { return nil, errors.New("second") }},
	})
	require.Error(t, err)
	assert.Equal(t, "b: second", err.Error())

	out, err := firstNonEmpty(context.Background(), []strategy[string]{
		{name: "a", run: func(context.Context) ([]string, error) { return nil, errors.New("first") }},
		{name: "b", run: func(context.Context) ([]string, error) { return []string{"ok"}, nil }},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out)
}
