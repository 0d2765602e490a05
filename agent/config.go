package agent

import (
	"sync"
	"time"

	"github.com/agentgrid-dev/agentgrid/table"
)

// Configuration keys as scripts see them through getconfig/setconfig.
const (
	ConfigStartNewThreadTime = "luaStartNewThreadTime"
	ConfigLogMessages        = "logMessages"
	ConfigLogReplication     = "logReplication"
)

// Config holds the per-agent knobs. All accessors are safe for concurrent
// use; workers read the replication threshold on every message.
type Config struct {
	mu sync.RWMutex

	// startNewThreadTime is the idle threshold for replication: a worker
	// that finished handling (or forwarding) its previous message less than
	// this long ago counts as busy.
	startNewThreadTime time.Duration

	// logMessages logs every send and receive when set.
	logMessages bool

	// logReplication logs replication decisions when set.
	logReplication bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{startNewThreadTime: 10 * time.Millisecond}
}

// StartNewThreadTime returns the replication idle threshold.
func (c *Config) StartNewThreadTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startNewThreadTime
}

// SetStartNewThreadTime sets the replication idle threshold.
func (c *Config) SetStartNewThreadTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startNewThreadTime = d
}

// LogMessages reports whether per-message logging is on.
func (c *Config) LogMessages() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logMessages
}

// SetLogMessages toggles per-message logging.
func (c *Config) SetLogMessages(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logMessages = v
}

// LogReplication reports whether replication decisions are logged.
func (c *Config) LogReplication() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logReplication
}

// SetLogReplication toggles replication logging.
func (c *Config) SetLogReplication(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logReplication = v
}

// Table renders the configuration for the getconfig builtin.
func (c *Config) Table() *table.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := table.New()
	t.Set(ConfigStartNewThreadTime, c.startNewThreadTime.Seconds())
	t.Set(ConfigLogMessages, c.logMessages)
	t.Set(ConfigLogReplication, c.logReplication)
	return t
}

// SetTable replaces the configuration from a setconfig table. Unknown keys
// are ignored; absent keys keep their value.
func (c *Config) SetTable(t *table.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := t.Get(ConfigStartNewThreadTime); ok {
		switch x := v.(type) {
		case float64:
			c.startNewThreadTime = time.Duration(x * float64(time.Second))
		case int64:
			c.startNewThreadTime = time.Duration(x) * time.Second
		}
	}
	if v, ok := t.Get(ConfigLogMessages); ok {
		if b, isBool := v.(bool); isBool {
			c.logMessages = b
		}
	}
	if v, ok := t.Get(ConfigLogReplication); ok {
		if b, isBool := v.(bool); isBool {
			c.logReplication = b
		}
	}
}
