package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantline/internal/engine/auth"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("plant-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "plant-1", cfg.Plant.ID)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Contains(t, cfg.RBAC.Roles, "supervisor")

	p := cfg.Policy()
	assert.True(t, p.Allows([]string{"operator"}, nil, auth.PermProductionSubmit))
	assert.False(t, p.Allows([]string{"operator"}, nil, auth.PermTaskDelete))
	assert.True(t, p.Allows([]string{"supervisor"}, nil, auth.PermTaskDelete))
}

func TestFromYAMLWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`
plant:
  id: p1
webhooks:
  - url: https://hooks.example.com/maint
    events: [task.derived]
    teams: [Maintenance]
    timeout_seconds: 3
  - url: http://localhost:9000/all
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 2)
	assert.Equal(t, []string{"Maintenance"}, cfg.Webhooks[0].Teams)
	assert.True(t, cfg.Webhooks[0].Active())
	assert.False(t, cfg.Webhooks[1].Active())
	assert.False(t, cfg.Policy().Enabled())
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"missing plant":   "plant: {}\n",
		"bad base path":   "plant: {id: p}\nserver: {base_path: v0}\n",
		"bad webhook url": "plant: {id: p}\nwebhooks: [{url: 'ftp://x'}]\n",
		"unknown perm":    "plant: {id: p}\nrbac: {roles: {op: {permissions: [task.burn]}}}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("p2")), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "p2", cfg.Plant.ID)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}
