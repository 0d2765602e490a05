package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentgrid-dev/agentgrid/table"
)

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 10*time.Millisecond, c.StartNewThreadTime())
	assert.False(t, c.LogMessages())
	assert.False(t, c.LogReplication())
}

func TestConfigTableRoundTrip(t *testing.T) {
	c := DefaultConfig()
	c.SetStartNewThreadTime(250 * time.Millisecond)
	c.SetLogMessages(true)

	got := c.Table()
	assert.Equal(t, 0.25, got.Float(ConfigStartNewThreadTime))
	assert.True(t, got.Bool(ConfigLogMessages))
	assert.False(t, got.Bool(ConfigLogReplication))

	other := DefaultConfig()
	other.SetTable(got)
	assert.Equal(t, 250*time.Millisecond, other.StartNewThreadTime())
	assert.True(t, other.LogMessages())
}

func TestConfigSetTableIgnoresUnknownKeys(t *testing.T) {
	c := DefaultConfig()
	in := table.New()
	in.Set("bogus", 1)
	in.Set(ConfigLogReplication, true)
	c.SetTable(in)

	assert.True(t, c.LogReplication())
	assert.Equal(t, 10*time.Millisecond, c.StartNewThreadTime(), "absent keys keep their value")
}

func TestMessageClone(t *testing.T) {
	params := table.New()
	params.Set("x", 1)
	m := NewMessage(3, "work", params)

	c := m.Clone()
	c.Params.Set("x", 2)

	assert.Equal(t, int64(1), m.Params.Int("x"))
	assert.Equal(t, m.ID, c.ID)
	assert.Equal(t, m.AgentID, c.AgentID)
}
