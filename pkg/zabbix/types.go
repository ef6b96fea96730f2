package zabbix

// Host is a monitored host. Host is the technical name, Name the visible one.
type Host struct {
	HostID string `json:"hostid"`
	Host   string `json:"host,omitempty"`
	Name   string `json:"name,omitempty"`
}

// DisplayName prefers the technical name.
func (h Host) DisplayName() string {
	if h.Host != "" {
		return h.Host
	}
	return h.Name
}

// HostGroup is a host group.
type HostGroup struct {
	GroupID string `json:"groupid"`
	Name    string `json:"name"`
}

// Template is a template.
type Template struct {
	TemplateID string `json:"templateid"`
	Host       string `json:"host,omitempty"`
	Name       string `json:"name"`
}

// Item is a monitored item. Hosts is only populated when selectHosts is requested.
type Item struct {
	ItemID     string `json:"itemid"`
	HostID     string `json:"hostid,omitempty"`
	Name       string `json:"name,omitempty"`
	Key        string `json:"key_,omitempty"`
	TemplateID string `json:"templateid,omitempty"`
	Hosts      []Host `json:"hosts,omitempty"`
}
