package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequiredScope(t *testing.T) {
	assert.Equal(t, "mcp:tools", RequiredScope("tools/call"))
	assert.Equal(t, "mcp:resources", RequiredScope("resources/read"))
	assert.Equal(t, "mcp:prompts", RequiredScope("prompts/get"))
	assert.Equal(t, "", RequiredScope("logging/setLevel"))
}

func TestAuthorize_MissingMethodScope(t *testing.T) {
	claims := Claims{Subject: "u1", Scopes: []string{"mcp:resources"}, ExpiresAt: time.Now().Add(time.Hour)}
	err := Authorize(claims, "tools/call", nil)
	assert.Error(t, err)
}

func TestAuthorize_MissingTagScope(t *testing.T) {
	claims := Claims{Subject: "u1", Scopes: []string{"mcp:tools"}, ExpiresAt: time.Now().Add(time.Hour)}
	err := Authorize(claims, "tools/call", map[string]bool{"db": true})
	assert.Error(t, err)
}

func TestAuthorize_AllScopesPresent(t *testing.T) {
	claims := Claims{Subject: "u1", Scopes: []string{"mcp:tools", "tag:db"}, ExpiresAt: time.Now().Add(time.Hour)}
	err := Authorize(claims, "tools/call", map[string]bool{"db": true})
	assert.NoError(t, err)
}
