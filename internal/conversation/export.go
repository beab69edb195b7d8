// ABOUTME: Export rendering for conversation contexts
// ABOUTME: Produces an indented JSON document or a plain chronological transcript

package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// exportContext renders a context in the requested format. The JSON form
// matches the file-backend document layout; the transcript form is one
// line per message with a local timestamp prefix.
func exportContext(c *Context, format string) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling conversation: %w", err)
		}
		return string(data), nil

	case FormatTranscript:
		var b strings.Builder
		for i, m := range c.Messages {
			if i > 0 {
				b.WriteString("\n")
			}
			ts := m.Timestamp.Format("2006-01-02 15:04:05")
			switch {
			case m.Role == RoleUser:
				fmt.Fprintf(&b, "[%s] User: %s", ts, m.Content)
			case m.Role == RoleAssistant && m.AgentName != "":
				fmt.Fprintf(&b, "[%s] %s: %s", ts, m.AgentName, m.Content)
			default:
				fmt.Fprintf(&b, "[%s] %s: %s", ts, m.Role, m.Content)
			}
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
