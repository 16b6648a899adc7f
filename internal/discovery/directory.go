package discovery

import "sync"

// Entry is one discovered session host.
type Entry struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Directory is the client-side record of discovered hosts, keyed by the
// advertised address. Append-only during a discovery run: metadata for a
// known address is never refreshed and entries never expire, so a host that
// vanished stays listed.
type Directory struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[string]Entry),
	}
}

// Add records a host under addr and reports whether it was newly seen.
// Duplicates are ignored without touching the stored entry.
func (d *Directory) Add(addr string, e Entry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.entries[addr]; known {
		return false
	}
	d.entries[addr] = e
	d.order = append(d.order, addr)
	return true
}

// Lookup returns the entry stored under addr.
func (d *Directory) Lookup(addr string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[addr]
	return e, ok
}

// List snapshots all entries in first-seen order.
func (d *Directory) List() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, 0, len(d.order))
	for _, addr := range d.order {
		out = append(out, d.entries[addr])
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
