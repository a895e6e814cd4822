package clients

import "strings"

// Well-known client types and network categories. The dashboard groups
// aggregate output by network category, a coarser bucket than client type
// (several BitTorrent clients share one category).
const (
	TypeAmule        = "amule"
	TypeQBittorrent  = "qbittorrent"
	TypeTransmission = "transmission"

	CategoryED2K       = "ed2k"
	CategoryBitTorrent = "bittorrent"
)

// Descriptor describes one client type: which protocol family it belongs to
// and what it is capable of reporting. TracksPID marks clients that expose
// their process identity, which is what makes restart detection possible.
type Descriptor struct {
	Type            string `json:"type"`
	NetworkCategory string `json:"network_category"`
	TracksPID       bool   `json:"tracks_pid"`
}

// Instance is one running, independently addressable download-client
// process as reported by the instance registry.
type Instance struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Catalog is the client-type capability table, built once at startup and
// passed explicitly into the components that need it.
type Catalog struct {
	byType map[string]Descriptor
}

// NewCatalog builds a catalog from descriptors. Later duplicates win.
func NewCatalog(descriptors ...Descriptor) *Catalog {
	c := &Catalog{byType: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		c.byType[d.Type] = d
	}
	return c
}

// DefaultCatalog returns the built-in client-type table: aMule (ED2K,
// reports its pid over the EC link) and the BitTorrent-family clients
// (their web APIs expose no process identity).
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Descriptor{Type: TypeAmule, NetworkCategory: CategoryED2K, TracksPID: true},
		Descriptor{Type: TypeQBittorrent, NetworkCategory: CategoryBitTorrent},
		Descriptor{Type: TypeTransmission, NetworkCategory: CategoryBitTorrent},
	)
}

// Descriptor looks up a client type.
func (c *Catalog) Descriptor(clientType string) (Descriptor, bool) {
	d, ok := c.byType[clientType]
	return d, ok
}

// TracksPID reports whether the client type can participate in restart
// correction. Unknown types cannot.
func (c *Catalog) TracksPID(clientType string) bool {
	return c.byType[clientType].TracksPID
}

// Category maps a client type to its network category. Unknown types fall
// back to their own name so their traffic still shows up somewhere.
func (c *Catalog) Category(clientType string) string {
	if d, ok := c.byType[clientType]; ok {
		return d.NetworkCategory
	}
	return clientType
}

// ParseInstances parses a registry list of the form
// "id=type,id=type,...". Entries without an '=' or with empty halves are
// skipped.
func ParseInstances(raw string) []Instance {
	var out []Instance
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, clientType, ok := strings.Cut(entry, "=")
		if !ok || id == "" || clientType == "" {
			continue
		}
		out = append(out, Instance{ID: id, Type: clientType})
	}
	return out
}

// Types returns all known client types.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.byType))
	for t := range c.byType {
		out = append(out, t)
	}
	return out
}
