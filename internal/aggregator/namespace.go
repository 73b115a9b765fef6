// Package aggregator implements the Capability Aggregator and
// Notification Fanout (spec.md §4.7, §4.9): building a filtered,
// namespaced union of upstream capabilities per inbound session.
package aggregator

import "strings"

// SEP separates an upstream name from a capability's original
// identifier in a qualified name, e.g. "github_1mcp_create_issue"
// (spec.md §3 CapabilityView).
const SEP = "_1mcp_"

// Qualify builds the namespaced identifier for one upstream's
// capability.
func Qualify(upstreamName, original string) string {
	return upstreamName + SEP + original
}

// QualifyURI rewrites a resource URI the same way, per spec.md §4.7
// step 3 ("for resources, rewrite uri to upstreamName + SEP + uri").
func QualifyURI(upstreamName, uri string) string {
	return upstreamName + SEP + uri
}

// Split recovers (upstreamName, original) from a qualified identifier,
// splitting on the first occurrence of SEP only (spec.md §4.7
// invocation parsing).
func Split(qualified string) (upstreamName, original string, ok bool) {
	idx := strings.Index(qualified, SEP)
	if idx < 0 {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+len(SEP):], true
}
