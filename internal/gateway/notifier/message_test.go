package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "✅",
		Title: "Position opened",
		Sections: []MessageSection{
			{Title: "Order", Lines: []string{"KRW-BTC buy", "  ", "amount 200,000 KRW"}},
			{Title: "Empty", Lines: []string{"   "}},
		},
		Footer:    "paper mode",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	out := msg.RenderMarkdown()

	assert.True(t, strings.HasPrefix(out, "✅ Position opened"))
	assert.Contains(t, out, "```\nOrder\n- KRW-BTC buy\n- amount 200,000 KRW\n```")
	assert.Contains(t, out, "paper mode")
	assert.Contains(t, out, "Time: 2026-03-01 09:00:00 UTC")
	assert.NotContains(t, out, "Empty", "blank sections are dropped")
}

func TestRenderMarkdownEmptySections(t *testing.T) {
	msg := StructuredMessage{Title: "Heartbeat"}
	assert.Equal(t, "Heartbeat", msg.RenderMarkdown())
}

func TestRenderMarkdownEscapesCodeFence(t *testing.T) {
	msg := StructuredMessage{
		Sections: []MessageSection{{Lines: []string{"weird ``` content"}}},
	}
	assert.NotContains(t, msg.RenderMarkdown(), "weird ``` content")
	assert.Contains(t, msg.RenderMarkdown(), "weird ''' content")
}

func TestRenderMarkdownTruncates(t *testing.T) {
	long := strings.Repeat("x", 5000)
	msg := StructuredMessage{Sections: []MessageSection{{Lines: []string{long}}}}
	out := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}
