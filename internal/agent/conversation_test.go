// File: internal/agent/conversation_test.go
package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
)

func screenshotTurn(step int) llm.Message {
	return llm.NewMultipartMessage(llm.RoleUser,
		llm.ImagePart("image/png", "c2NyZWVuc2hvdA=="),
		llm.TextPart(fmt.Sprintf("Current URL: https://example.com\nStep %d. What should I do next?", step)),
	)
}

func assistantTurn(step int) llm.Message {
	return llm.NewTextMessage(llm.RoleAssistant, fmt.Sprintf(
		`{"observation": "observation %d", "reasoning": "r", "next_step": "n", "action": {"action": "click", "x": 1, "y": 2}}`, step))
}

func TestConversationElideStaleImages(t *testing.T) {
	t.Run("rewrites the previous screenshot turn", func(t *testing.T) {
		conv := NewConversation()
		conv.Append(screenshotTurn(1))
		conv.Append(assistantTurn(1))
		conv.Append(screenshotTurn(2))
		conv.ElideStaleImages()

		msgs := conv.Messages()
		stale := msgs[0]
		assert.Equal(t, llm.RoleUser, stale.Role)
		assert.False(t, stale.IsMultipart())
		assert.True(t, strings.HasPrefix(stale.Text, "[screenshot omitted] "))
		assert.Contains(t, stale.Text, "Step 1.")

		// The newest screenshot is untouched.
		assert.True(t, msgs[2].HasImage())

		conv.Append(assistantTurn(2))
		conv.Append(screenshotTurn(3))
		conv.ElideStaleImages()

		msgs = conv.Messages()
		assert.Contains(t, msgs[2].Text, "[screenshot omitted] ")
		assert.Contains(t, msgs[2].Text, "Step 2.")
		assert.True(t, msgs[4].HasImage())
	})

	t.Run("no-op on short histories", func(t *testing.T) {
		conv := NewConversation()
		conv.Append(screenshotTurn(1))
		conv.ElideStaleImages()
		assert.True(t, conv.Messages()[0].HasImage())
	})

	t.Run("skips non-image candidates", func(t *testing.T) {
		conv := NewConversation()
		conv.Append(llm.NewTextMessage(llm.RoleUser, "plain"))
		conv.Append(assistantTurn(1))
		conv.Append(screenshotTurn(2))
		conv.ElideStaleImages()
		assert.Equal(t, "plain", conv.Messages()[0].Text)
	})
}

func TestConversationCompact(t *testing.T) {
	buildHistory := func(turns int) *Conversation {
		conv := NewConversation()
		for i := 1; i <= turns; i++ {
			conv.Append(llm.NewTextMessage(llm.RoleUser, fmt.Sprintf("Current URL: u\nStep %d.", i)))
			conv.Append(assistantTurn(i))
		}
		return conv
	}

	t.Run("below threshold is untouched", func(t *testing.T) {
		conv := buildHistory(10) // 20 messages
		assert.False(t, conv.Compact(50, 10))
		assert.Equal(t, 20, conv.Len())
	})

	t.Run("compacts into summary plus recent turns", func(t *testing.T) {
		conv := buildHistory(26) // 52 messages
		require.True(t, conv.Compact(50, 10))

		msgs := conv.Messages()
		// summary + ack + 10 kept
		require.Len(t, msgs, 12)

		summary := msgs[0]
		assert.Equal(t, llm.RoleUser, summary.Role)
		assert.True(t, strings.HasPrefix(summary.Text, "Summary of previous steps:"))
		assert.Contains(t, summary.Text, "Step 1: [click] observation 1")
		// 42 compacted messages hold 21 assistant turns.
		assert.Contains(t, summary.Text, "Step 21: [click] observation 21")
		assert.NotContains(t, summary.Text, "Step 22:")

		ack := msgs[1]
		assert.Equal(t, llm.RoleAssistant, ack.Role)
		assert.Contains(t, ack.Text, "Understood the summary")

		// Alternation survives: user, assistant, then the kept tail
		// starting with a user turn.
		assert.Equal(t, llm.RoleUser, msgs[2].Role)
		for i := 2; i < len(msgs); i++ {
			want := llm.RoleUser
			if i%2 == 1 {
				want = llm.RoleAssistant
			}
			assert.Equal(t, want, msgs[i].Role, "message %d", i)
		}
	})

	t.Run("unparsable assistant turns fall back to raw text", func(t *testing.T) {
		conv := NewConversation()
		for i := 0; i < 26; i++ {
			conv.Append(llm.NewTextMessage(llm.RoleUser, "u"))
			conv.Append(llm.NewTextMessage(llm.RoleAssistant, "not json at all"))
		}
		require.True(t, conv.Compact(50, 10))
		assert.Contains(t, conv.Messages()[0].Text, "Step 1: not json at all")
	})

	t.Run("truncates long observations", func(t *testing.T) {
		long := strings.Repeat("x", 400)
		conv := NewConversation()
		for i := 0; i < 26; i++ {
			conv.Append(llm.NewTextMessage(llm.RoleUser, "u"))
			conv.Append(llm.NewTextMessage(llm.RoleAssistant,
				fmt.Sprintf(`{"observation": "%s", "action": {"action": "wait", "ms": 1}}`, long)))
		}
		require.True(t, conv.Compact(50, 10))
		for _, line := range strings.Split(conv.Messages()[0].Text, "\n")[1:] {
			assert.LessOrEqual(t, len(line), len("  Step 21: [wait] ")+153)
		}
	})
}

func TestStuckTracker(t *testing.T) {
	t.Run("warns at the repeat limit and force-stops after three warnings", func(t *testing.T) {
		tracker := NewStuckTracker(5)

		for i := 1; i <= 4; i++ {
			report := tracker.Observe("h1")
			assert.Equal(t, i, report.Repeats)
			assert.Empty(t, report.Hint)
			assert.False(t, report.ForceStop)
		}

		for w := 1; w <= 3; w++ {
			report := tracker.Observe("h1")
			assert.Equal(t, w, report.Warnings)
			assert.Contains(t, report.Hint, fmt.Sprintf("WARNING (%d/3)", w))
			assert.False(t, report.ForceStop)
		}

		report := tracker.Observe("h1")
		assert.True(t, report.ForceStop)
		assert.Empty(t, report.Hint)
	})

	t.Run("tracks hashes independently", func(t *testing.T) {
		tracker := NewStuckTracker(2)
		tracker.Observe("a")
		report := tracker.Observe("b")
		assert.Empty(t, report.Hint)
		report = tracker.Observe("a")
		assert.NotEmpty(t, report.Hint)
	})

	t.Run("counters survive snapshot and restore", func(t *testing.T) {
		tracker := NewStuckTracker(3)
		tracker.Observe("a")
		tracker.Observe("a")
		tracker.Observe("a") // first warning

		restored := NewStuckTracker(3)
		restored.RestoreStuckCounters(tracker.Counts(), tracker.WarningCounts())

		report := restored.Observe("a")
		assert.Equal(t, 4, report.Repeats)
		assert.Equal(t, 2, report.Warnings)
	})
}

func TestScreenshotHash(t *testing.T) {
	a := ScreenshotHash([]byte("imagebytes"))
	b := ScreenshotHash([]byte("imagebytes"))
	c := ScreenshotHash([]byte("different"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
