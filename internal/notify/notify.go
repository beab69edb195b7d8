// ABOUTME: Message delivery helpers for the chat platform boundary
// ABOUTME: Chunks long content at platform size limits and provides a console notifier

package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// DefaultMaxLength matches the common chat-platform message cap.
const DefaultMaxLength = 2000

// Chunk splits content into pieces of at most max runes, preferring to
// break on a newline and then on a space so words survive intact. A
// single over-long word is split hard.
func Chunk(content string, max int) []string {
	if max <= 0 {
		max = DefaultMaxLength
	}
	if content == "" {
		return nil
	}

	var chunks []string
	remaining := content
	for len([]rune(remaining)) > max {
		runes := []rune(remaining)
		window := string(runes[:max])

		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}

		chunks = append(chunks, strings.TrimRight(remaining[:cut], " \n"))
		remaining = strings.TrimLeft(remaining[cut:], " \n")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// Console delivers agent output to a writer, one colorized line per send.
// It stands in for a chat-platform connection in local runs and tests.
type Console struct {
	maxLength int

	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console notifier. maxLength <= 0 uses
// DefaultMaxLength.
func NewConsole(out io.Writer, maxLength int) *Console {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Console{out: out, maxLength: maxLength}
}

// Send writes one message prefixed with its channel.
func (c *Console) Send(ctx context.Context, channelID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "%s %s\n", color.CyanString("[%s]", channelID), content)
	return err
}

// SendChunked writes content split at the platform size limit.
func (c *Console) SendChunked(ctx context.Context, channelID, content string) error {
	for _, chunk := range Chunk(content, c.maxLength) {
		if err := c.Send(ctx, channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}
