package agentgrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFileReader struct {
	data map[string][]byte
}

func (r *stubFileReader) ReadFile(path string) ([]byte, error) {
	if data, ok := r.data[path]; ok {
		return data, nil
	}
	return nil, assert.AnError
}

func TestLoadConfig(t *testing.T) {
	yaml := `
http_port: 9090
agents:
  - name: echo
    code: echo-source
    settings:
      luaStartNewThreadTime: 0.5
      logReplication: true
    messages:
      - name: ping
        display_name: Ping
        parameters:
          value:
            default: 7
  - name: sink
    script: /opt/scripts/sink.lua
`
	loader := NewConfigLoader(&stubFileReader{data: map[string][]byte{
		"agents.yaml": []byte(yaml),
	}})

	cfg, err := loader.LoadConfig("agents.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.HTTPPort)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "echo", cfg.Agents[0].Name)
	assert.Equal(t, "echo-source", cfg.Agents[0].Code)
	assert.Equal(t, 0.5, cfg.Agents[0].Settings["luaStartNewThreadTime"])
	require.Len(t, cfg.Agents[0].Messages, 1)
	assert.Equal(t, "ping", cfg.Agents[0].Messages[0].Name)
	assert.Equal(t, 7, cfg.Agents[0].Messages[0].Parameters["value"].Default)
	assert.Equal(t, "/opt/scripts/sink.lua", cfg.Agents[1].Script)
}

func TestLoadConfigDefaults(t *testing.T) {
	loader := NewConfigLoader(&stubFileReader{data: map[string][]byte{
		"agents.yaml": []byte("agents: []"),
	}})
	cfg, err := loader.LoadConfig("agents.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestLoadConfigMissingFile(t *testing.T) {
	loader := NewConfigLoader(&stubFileReader{})
	_, err := loader.LoadConfig("nope.yaml")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Agents: []AgentDef{{Name: ""}}},
		{Agents: []AgentDef{{Name: "a", Code: "x"}, {Name: "a", Code: "y"}}},
		{Agents: []AgentDef{{Name: "a"}}},
		{Agents: []AgentDef{{Name: "a", Code: "x", Messages: []MessageDef{{Name: ""}}}}},
	}
	for i, cfg := range bad {
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}
