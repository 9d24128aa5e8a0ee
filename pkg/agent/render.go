package agent

import (
	"fmt"
	"strings"

	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/protocol"
)

// memoryQuery describes the surroundings for a memory lookup.
func memoryQuery(p *protocol.Perception) string {
	return fmt.Sprintf("Location: %s. Nearby: %s. Holding: %s. ",
		p.LocationID, strings.Join(p.NearbyIDs(), ", "), p.Holding("None"))
}

func renderMemories(ms []knowledge.MemoryRecord) string {
	if len(ms) == 0 {
		return "No relevant memories found."
	}
	lines := make([]string, len(ms))
	for i, m := range ms {
		lines[i] = fmt.Sprintf("- %s (Day %d)", m.Content, m.Day)
	}
	return strings.Join(lines, "\n")
}

// visibleObjects lists nearby objects as "id<sep>(state)".
func visibleObjects(p *protocol.Perception, sep string) []string {
	out := make([]string, len(p.NearbyObjects))
	for i, o := range p.NearbyObjects {
		out[i] = o.ID + sep + "(" + o.State + ")"
	}
	return out
}

func orNone(s, none string) string {
	if s == "" {
		return none
	}
	return s
}
