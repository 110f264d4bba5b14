package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

func TestConfig_Identify(t *testing.T) {
	cfg := schema.New()
	cfg.Keys["User"] = func(e map[string]interface{}) string {
		id, _ := e["id"].(string)
		return id
	}

	assert.Equal(t, "User:1", cfg.Identify("User", map[string]interface{}{"id": "1"}))
	assert.Equal(t, "", cfg.Identify("User", map[string]interface{}{}))
	assert.Equal(t, "", cfg.Identify("Unknown", map[string]interface{}{"id": "1"}))
}

func TestConfig_ConnectionFor_DirectAndViaInterface(t *testing.T) {
	cfg := schema.New()
	cfg.Interfaces["Node"] = []string{"User", "Post"}
	cfg.Connections["Query"] = map[string]schema.ConnectionConfig{
		"users": {Mode: schema.ModeForward, Filters: []string{"role"}, Dedupe: schema.DedupeNode},
	}
	cfg.Connections["Node"] = map[string]schema.ConnectionConfig{
		"comments": {Mode: schema.ModePage, Dedupe: schema.DedupeCursor},
	}

	direct, ok := cfg.ConnectionFor("Query", "users")
	assert.True(t, ok)
	assert.Equal(t, schema.ModeForward, direct.Mode)

	viaIface, ok := cfg.ConnectionFor("User", "comments")
	assert.True(t, ok)
	assert.Equal(t, schema.ModePage, viaIface.Mode)

	_, ok = cfg.ConnectionFor("User", "nonexistent")
	assert.False(t, ok)
}

func TestArgsKey_SortsAndFormatsDeterministically(t *testing.T) {
	args := map[string]interface{}{"first": 2, "after": "u2"}
	assert.Equal(t, `(after:u2,first:2)`, schema.ArgsKey(args))
	assert.Equal(t, "()", schema.ArgsKey(nil))
}

func TestFilterArgs_ExcludesPaginationAndUnlistedArgs(t *testing.T) {
	args := map[string]interface{}{"first": 2, "after": "u2", "role": "admin", "extra": "x"}
	out := schema.FilterArgs(args, []string{"role"})
	assert.Equal(t, map[string]interface{}{"role": "admin"}, out)
}
