package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualifyAndSplit_RoundTrip(t *testing.T) {
	q := Qualify("github", "create_issue")
	assert.Equal(t, "github_1mcp_create_issue", q)

	up, orig, ok := Split(q)
	assert.True(t, ok)
	assert.Equal(t, "github", up)
	assert.Equal(t, "create_issue", orig)
}

func TestSplit_FirstOccurrenceOnly(t *testing.T) {
	// An original id that itself contains the separator must still
	// recover the correct upstream and the full remainder as original.
	q := Qualify("github", "foo_1mcp_bar")
	up, orig, ok := Split(q)
	assert.True(t, ok)
	assert.Equal(t, "github", up)
	assert.Equal(t, "foo_1mcp_bar", orig)
}

func TestSplit_NoSeparator(t *testing.T) {
	_, _, ok := Split("not-qualified")
	assert.False(t, ok)
}

func TestQualifyURI(t *testing.T) {
	assert.Equal(t, "fs_1mcp_file:///tmp/a.txt", QualifyURI("fs", "file:///tmp/a.txt"))
}
