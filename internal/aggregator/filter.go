package aggregator

import (
	"sort"

	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/upstream"
)

// AdmittedNames restricts conns to the names the filter admits
// (spec.md §4.7 step 1). Order is deterministic for reproducible
// fan-out logging and tests.
func AdmittedNames(conns map[string]*upstream.OutboundConnection, filter mcptag.Filter, store mcptag.Store) ([]string, error) {
	var names []string
	for name, c := range conns {
		ok, err := filter.Admits(c.Params().TagSet(), store)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// AdmittedSet is AdmittedNames as a lookup set, the shape Route needs
// for its allowed-upstream check.
func AdmittedSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
