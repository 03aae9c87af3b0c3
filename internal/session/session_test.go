// File: internal/session/session_test.go
package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
)

func sampleState(status Status) *State {
	return &State{
		Version:  Version,
		Status:   status,
		URL:      "https://example.com/start",
		LastURL:  "https://example.com/page2",
		Scenario: "complete the quiz",
		Model:    "openai/gpt-4o",
		Viewport: Viewport{Width: 1280, Height: 800},
		Headless: true,
		MaxSteps: 50,
		Step:     7,
		ElapsedSeconds: 93.5,
		ScreenshotCounts:   map[string]int{"abc": 3},
		ScreenshotWarnings: map[string]int{"abc": 1},
		Conversation: []StoredMessage{
			{Role: "user", Content: "[screenshot omitted] Current URL: u\nStep 1."},
			{Role: "assistant", Content: `{"observation": "o"}`},
		},
		Usage:        llm.UsageStats{InputTokens: 12000, OutputTokens: 900},
		UsageByModel: map[string]llm.UsageStats{"openai/gpt-4o": {InputTokens: 12000, OutputTokens: 900}},
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	state := sampleState(StatusInProgress)

	require.NoError(t, store.Save("20260826-120000-aaaa", state))

	loaded, err := store.Load("20260826-120000-aaaa")
	require.NoError(t, err)
	if diff := cmp.Diff(state, loaded); diff != "" {
		t.Errorf("state mismatch after round trip (-saved +loaded):\n%s", diff)
	}
}

func TestStoreSaveOverwritesAtomically(t *testing.T) {
	store := NewStore(t.TempDir())
	id := "20260826-120000-bbbb"

	first := sampleState(StatusInProgress)
	require.NoError(t, store.Save(id, first))

	second := sampleState(StatusInProgress)
	second.Step = 8
	require.NoError(t, store.Save(id, second))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Step)

	// No temp debris left behind.
	entries, err := os.ReadDir(store.Dir(id))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session.json", entries[0].Name())
}

func TestStoreLoadRejectsVersionMismatch(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	id := "20260826-120000-cccc"

	state := sampleState(StatusInProgress)
	state.Version = 99
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(store.Dir(id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(id), "session.json"), data, 0o644))

	_, err = store.Load(id)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load("nope")
	require.Error(t, err)
}

func TestLoadResumable(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Save("s1", sampleState(StatusDone)))
	_, err := store.LoadResumable("s1")
	require.ErrorIs(t, err, ErrNotResumable)

	require.NoError(t, store.Save("s2", sampleState(StatusInterrupted)))
	state, err := store.LoadResumable("s2")
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, state.Status)
}

func TestFindLatestResumable(t *testing.T) {
	t.Run("newest resumable wins", func(t *testing.T) {
		store := NewStore(t.TempDir())
		require.NoError(t, store.Save("20260826-100000-aaaa", sampleState(StatusInterrupted)))
		require.NoError(t, store.Save("20260826-110000-bbbb", sampleState(StatusInProgress)))
		require.NoError(t, store.Save("20260826-120000-cccc", sampleState(StatusDone)))

		entry, err := store.FindLatestResumable()
		require.NoError(t, err)
		assert.Equal(t, "20260826-110000-bbbb", entry.ID)
	})

	t.Run("skips corrupt session files", func(t *testing.T) {
		root := t.TempDir()
		store := NewStore(root)
		require.NoError(t, store.Save("20260826-100000-aaaa", sampleState(StatusInProgress)))
		require.NoError(t, os.MkdirAll(filepath.Join(root, "20260826-130000-zzzz"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "20260826-130000-zzzz", "session.json"), []byte("{broken"), 0o644))

		entry, err := store.FindLatestResumable()
		require.NoError(t, err)
		assert.Equal(t, "20260826-100000-aaaa", entry.ID)
	})

	t.Run("none resumable", func(t *testing.T) {
		store := NewStore(t.TempDir())
		require.NoError(t, store.Save("s1", sampleState(StatusFailed)))
		_, err := store.FindLatestResumable()
		require.ErrorIs(t, err, ErrNoResumableSessions)
	})

	t.Run("missing root directory", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
		_, err := store.FindLatestResumable()
		require.ErrorIs(t, err, ErrNoResumableSessions)
	})
}

func TestList(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save("20260826-100000-aaaa", sampleState(StatusDone)))
	require.NoError(t, store.Save("20260826-110000-bbbb", sampleState(StatusInProgress)))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "20260826-110000-bbbb", entries[0].ID)
	assert.Equal(t, "20260826-100000-aaaa", entries[1].ID)
}

func TestSerializeConversation(t *testing.T) {
	conversation := []llm.Message{
		llm.NewMultipartMessage(llm.RoleUser,
			llm.ImagePart("image/png", "cGl4ZWxz"),
			llm.TextPart("Current URL: https://example.com\nStep 3. What should I do next?"),
		),
		llm.NewTextMessage(llm.RoleAssistant, `{"observation": "o"}`),
	}

	stored := SerializeConversation(conversation)
	require.Len(t, stored, 2)

	assert.Equal(t, "user", stored[0].Role)
	assert.NotContains(t, stored[0].Content, "cGl4ZWxz")
	assert.Contains(t, stored[0].Content, "[screenshot omitted]")
	assert.Contains(t, stored[0].Content, "Step 3.")

	assert.Equal(t, "assistant", stored[1].Role)
	assert.Equal(t, `{"observation": "o"}`, stored[1].Content)

	restored := DeserializeConversation(stored)
	require.Len(t, restored, 2)
	assert.Equal(t, llm.RoleUser, restored[0].Role)
	assert.False(t, restored[0].IsMultipart())
	assert.Equal(t, llm.RoleAssistant, restored[1].Role)
}

func TestNewSessionID(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^\d{8}-\d{6}-[0-9a-f]{8}$`, a)
}
