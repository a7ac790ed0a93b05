package cache

import (
	"fmt"
	"sync"

	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

// AgentInfo is one entry in the agent directory, keyed by the agent's
// phone number.
type AgentInfo struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Team   string `json:"team,omitempty"`
}

// AgentDirectory provides thread-safe lookup of agents by phone number.
// Call records only carry the agent's number; the directory supplies
// the display name the dashboard shows next to a call.
type AgentDirectory struct {
	agents map[string]*AgentInfo
	mutex  sync.RWMutex
}

// NewAgentDirectory returns an empty directory.
func NewAgentDirectory() *AgentDirectory {
	return &AgentDirectory{
		agents: make(map[string]*AgentInfo),
	}
}

// Load replaces the directory contents atomically.
func (d *AgentDirectory) Load(agents []AgentInfo) {
	next := make(map[string]*AgentInfo, len(agents))
	for i := range agents {
		a := agents[i]
		if a.Number == "" {
			continue
		}
		next[a.Number] = &a
	}

	d.mutex.Lock()
	d.agents = next
	d.mutex.Unlock()

	logger.Base().Info("Agent directory loaded", zap.Int("agents", len(next)))
}

// Lookup returns a copy of the agent with the given number.
func (d *AgentDirectory) Lookup(number string) (*AgentInfo, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	agent, exists := d.agents[number]
	if !exists {
		return nil, fmt.Errorf("agent not found: %s", number)
	}

	copied := &AgentInfo{}
	if err := copier.Copy(copied, agent); err != nil {
		return nil, fmt.Errorf("failed to copy agent: %w", err)
	}
	return copied, nil
}

// EnrichCall attaches the handling agent's name to the call's details.
// Missing directory entries are not an error; the call is served
// without enrichment.
func (d *AgentDirectory) EnrichCall(call *domain.Call) {
	if call == nil || call.AgentNumber == nil || *call.AgentNumber == "" {
		return
	}
	agent, err := d.Lookup(*call.AgentNumber)
	if err != nil {
		return
	}
	if call.Details == nil {
		call.Details = domain.CallDetails{}
	}
	call.Details["agent_name"] = agent.Name
	if agent.Team != "" {
		call.Details["agent_team"] = agent.Team
	}
}

// Len returns the number of entries.
func (d *AgentDirectory) Len() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.agents)
}
