// File: internal/agent/conversation.go
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
)

const elidedImagePrefix = "[screenshot omitted] "

// compactAckJSON is the synthetic assistant turn inserted after a summary
// so the history keeps alternating user/assistant.
const compactAckJSON = `{"observation": "Understood the summary of previous steps.", "reasoning": "Continuing from where we left off.", "action": {"action": "wait", "ms": 0}}`

// Conversation owns the live message history. The loop appends one user
// turn (screenshot + prompt) and one assistant turn (the raw response JSON)
// per step; stale screenshots are elided and old turns are compacted so the
// history stays within budget. All mutation goes through this type so the
// user-first alternation invariant is maintained in one place.
type Conversation struct {
	messages []llm.Message
}

// NewConversation returns an empty history.
func NewConversation() *Conversation {
	return &Conversation{}
}

// NewConversationFromMessages wraps a restored history, e.g. from a
// session checkpoint.
func NewConversationFromMessages(messages []llm.Message) *Conversation {
	return &Conversation{messages: messages}
}

// Append adds a turn to the history.
func (c *Conversation) Append(msg llm.Message) {
	c.messages = append(c.messages, msg)
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.messages) }

// Messages exposes the live history for an LLM call. Callers must not
// mutate the returned slice.
func (c *Conversation) Messages() []llm.Message { return c.messages }

// ElideStaleImages rewrites the previous screenshot-bearing user turn to
// drop its image, keeping only the text parts behind a marker. Call it
// right after appending a new user turn: only the latest screenshot
// carries signal, older ones just burn tokens.
func (c *Conversation) ElideStaleImages() {
	if len(c.messages) < 3 {
		return
	}
	idx := len(c.messages) - 3
	old := c.messages[idx]
	if old.Role != llm.RoleUser || !old.IsMultipart() {
		return
	}
	var texts []string
	for _, part := range old.Parts {
		if part.Image == nil && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	c.messages[idx] = llm.NewTextMessage(llm.RoleUser, elidedImagePrefix+strings.Join(texts, " "))
}

// storedResponse is the subset of the assistant turn needed for summaries.
type storedResponse struct {
	Observation string `json:"observation"`
	Action      struct {
		Action string `json:"action"`
	} `json:"action"`
}

// Compact folds everything but the most recent turns into a single textual
// summary once the history reaches the threshold. The summary becomes a
// user turn followed by a synthetic assistant acknowledgment, so the
// compacted history still starts with a user turn and alternates.
func (c *Conversation) Compact(threshold, keepRecent int) bool {
	if threshold <= 0 || len(c.messages) <= threshold {
		return false
	}
	if keepRecent < 0 {
		keepRecent = 0
	}

	split := len(c.messages) - keepRecent
	toCompact := c.messages[:split]
	toKeep := c.messages[split:]

	lines := []string{"Summary of previous steps:"}
	stepNum := 0
	for _, msg := range toCompact {
		if msg.Role != llm.RoleAssistant || msg.IsMultipart() {
			continue
		}
		stepNum++
		var stored storedResponse
		if err := json.UnmarshalFromString(msg.Text, &stored); err == nil && stored.Action.Action != "" {
			lines = append(lines, fmt.Sprintf("  Step %d: [%s] %s", stepNum, stored.Action.Action, truncate(stored.Observation, 150)))
		} else {
			lines = append(lines, fmt.Sprintf("  Step %d: %s", stepNum, truncate(msg.Text, 150)))
		}
	}

	compacted := make([]llm.Message, 0, len(toKeep)+2)
	compacted = append(compacted,
		llm.NewTextMessage(llm.RoleUser, strings.Join(lines, "\n")),
		llm.NewTextMessage(llm.RoleAssistant, compactAckJSON),
	)
	compacted = append(compacted, toKeep...)
	c.messages = compacted
	return true
}

// ScreenshotHash fingerprints raw screenshot bytes for stuck detection.
func ScreenshotHash(png []byte) string {
	sum := sha256.Sum256(png)
	return hex.EncodeToString(sum[:])
}

const maxStuckWarnings = 3

// StuckReport describes the outcome of observing one screenshot hash.
type StuckReport struct {
	// Repeats is how many times this exact screen has been seen in total.
	Repeats int
	// Warnings is how many stuck warnings this screen has accumulated.
	Warnings int
	// Hint is the warning text to append to the user turn, empty when the
	// agent is not considered stuck.
	Hint string
	// ForceStop is set once the agent has ignored the warning allowance.
	ForceStop bool
}

// StuckTracker counts repeated screenshot hashes and escalates from hints
// to a forced stop. Counters survive checkpoint/resume via Snapshot and
// RestoreStuckCounters.
type StuckTracker struct {
	repeatLimit int
	counts      map[string]int
	warnings    map[string]int
}

// NewStuckTracker builds a tracker that starts warning once the same
// screen has been seen repeatLimit times.
func NewStuckTracker(repeatLimit int) *StuckTracker {
	if repeatLimit <= 0 {
		repeatLimit = 5
	}
	return &StuckTracker{
		repeatLimit: repeatLimit,
		counts:      make(map[string]int),
		warnings:    make(map[string]int),
	}
}

// Observe records one sighting of a screenshot hash and reports the
// escalation state.
func (t *StuckTracker) Observe(hash string) StuckReport {
	t.counts[hash]++
	report := StuckReport{Repeats: t.counts[hash]}
	if report.Repeats < t.repeatLimit {
		return report
	}

	t.warnings[hash]++
	report.Warnings = t.warnings[hash]
	if report.Warnings > maxStuckWarnings {
		report.ForceStop = true
		return report
	}

	report.Hint = fmt.Sprintf(
		"\n\nWARNING (%d/%d): This exact screen has appeared %d times already. "+
			"You are stuck. Try a COMPLETELY different approach, or use the fail action if you cannot proceed. "+
			"You will be force-stopped after %d warnings.",
		report.Warnings, maxStuckWarnings, report.Repeats, maxStuckWarnings)
	return report
}

// Counts returns a copy of the repeat counters for checkpointing.
func (t *StuckTracker) Counts() map[string]int {
	return copyCounters(t.counts)
}

// WarningCounts returns a copy of the warning counters for checkpointing.
func (t *StuckTracker) WarningCounts() map[string]int {
	return copyCounters(t.warnings)
}

// RestoreStuckCounters reloads counters from a checkpoint.
func (t *StuckTracker) RestoreStuckCounters(counts, warnings map[string]int) {
	t.counts = copyCounters(counts)
	t.warnings = copyCounters(warnings)
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if t.warnings == nil {
		t.warnings = make(map[string]int)
	}
}

func copyCounters(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
