package mapper

// Payload keys of the read-only resources.
const (
	FloatingIPsKey = "floatingips"
	ExtensionsKey  = "extensions"
)

// Extension describes an advertised API extension.
type Extension struct {
	Alias       string   `json:"alias"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Updated     string   `json:"updated"`
	Links       []string `json:"links"`
}

var extensions = []Extension{{
	Alias:       "extraroute",
	Name:        "Neutron Extra Route",
	Description: "Extra routes configuration for L3 router",
	Updated:     "2013-02-01T10:00:00-00:00",
	Links:       []string{},
}}

// ListFloatingIPs serves GET floatingips. Floating IPs are not supported,
// the list is always empty.
func (m *Mapper) ListFloatingIPs() interface{} {
	return map[string]interface{}{FloatingIPsKey: []interface{}{}}
}

// ListExtensions serves GET extensions.
func (m *Mapper) ListExtensions() interface{} {
	return map[string]interface{}{ExtensionsKey: extensions}
}
