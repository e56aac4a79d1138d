// Package inventory loads host names from inventory files. Entries keep their
// file order so sweep output lines up with what the operator wrote.
package inventory

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Entry is one host taken from an inventory source. Group is the INI section
// the host came from; ungrouped sources leave it empty.
type Entry struct {
	Name  string
	Group string
}

// HostName returns the name-bearing field, letting richer records feed a
// querier directly.
func (e Entry) HostName() string {
	return e.Name
}

// LoadINI reads a host inventory file. Each section is a group and each key's
// value is one host name:
//
//	[web]
//	host1 = web-01.example.com
//	host2 = web-02.example.com
//
// Section order, then key order, is preserved.
func LoadINI(path string) ([]Entry, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", path, err)
	}

	var entries []Entry
	for _, section := range cfg.Sections() {
		group := section.Name()
		if group == ini.DefaultSection {
			group = ""
		}
		for _, key := range section.Keys() {
			entries = append(entries, Entry{Name: key.String(), Group: group})
		}
	}
	return entries, nil
}

// Names projects entries onto the plain host-name list a querier consumes.
func Names(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.HostName())
	}
	return names
}
