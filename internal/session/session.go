// File: internal/session/session.go

// Package session persists agent loop state to disk so an interrupted or
// crashed run can be resumed from its last completed step. Each session is
// a directory holding one session.json, overwritten atomically after every
// step.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

// Version is the session file format version. Files with a different
// version are rejected rather than guessed at.
const Version = 1

const (
	sessionFileName   = "session.json"
	screenshotOmitted = "[screenshot omitted]"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

var (
	// ErrVersionMismatch marks a session file written by an incompatible
	// format version.
	ErrVersionMismatch = errors.New("unsupported session version")
	// ErrNotResumable marks a session whose status does not allow resuming.
	ErrNotResumable = errors.New("session is not resumable")
	// ErrNoResumableSessions is returned when no candidate session exists.
	ErrNoResumableSessions = errors.New("no resumable sessions found")
)

// StoredMessage is one conversation turn as persisted. Images never reach
// disk; only the placeholder text survives serialization.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Viewport is the browser viewport recorded with the session.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// State is the full checkpoint written to session.json.
type State struct {
	Version            int                       `json:"version"`
	Status             Status                    `json:"status"`
	URL                string                    `json:"url"`
	LastURL            string                    `json:"last_url"`
	Scenario           string                    `json:"scenario"`
	Model              string                    `json:"model"`
	FallbackModel      string                    `json:"fallback_model,omitempty"`
	UseSmartModel      bool                      `json:"use_smart_model"`
	Viewport           Viewport                  `json:"viewport"`
	Headless           bool                      `json:"headless"`
	Pause              bool                      `json:"pause"`
	MaxSteps           int                       `json:"max_steps"`
	Step               int                       `json:"step"`
	ElapsedSeconds     float64                   `json:"elapsed_seconds"`
	ScreenshotCounts   map[string]int            `json:"screenshot_counts"`
	ScreenshotWarnings map[string]int            `json:"screenshot_warnings"`
	Conversation       []StoredMessage           `json:"conversation"`
	Usage              llm.UsageStats            `json:"usage"`
	UsageByModel       map[string]llm.UsageStats `json:"usage_by_model,omitempty"`
}

// IsResumable reports whether the session can be picked up again. Finished
// sessions (done/failed) are history, not work in progress.
func (s *State) IsResumable() bool {
	return s.Status == StatusInProgress || s.Status == StatusInterrupted
}

// SerializeConversation converts live history to its persisted form,
// replacing multipart turns with placeholder text.
func SerializeConversation(conversation []llm.Message) []StoredMessage {
	out := make([]StoredMessage, 0, len(conversation))
	for _, msg := range conversation {
		if !msg.IsMultipart() {
			out = append(out, StoredMessage{Role: string(msg.Role), Content: msg.Text})
			continue
		}
		var texts []string
		for _, part := range msg.Parts {
			if part.Image == nil && part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		out = append(out, StoredMessage{
			Role:    string(msg.Role),
			Content: screenshotOmitted + " " + strings.Join(texts, " "),
		})
	}
	return out
}

// DeserializeConversation restores persisted turns as plain-text messages.
func DeserializeConversation(stored []StoredMessage) []llm.Message {
	out := make([]llm.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, llm.NewTextMessage(llm.Role(msg.Role), msg.Content))
	}
	return out
}

// NewSessionID generates a sortable session directory name. The timestamp
// prefix keeps lexical order chronological; the suffix disambiguates
// sessions started within the same second.
func NewSessionID() string {
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}

// Store manages session directories under one root.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore returns a store rooted at dir. The directory is created lazily
// on first save.
func NewStore(root string) *Store {
	return &Store{root: root, logger: observability.GetLogger().Named("session")}
}

// Root returns the sessions root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of a session id.
func (s *Store) Dir(id string) string { return filepath.Join(s.root, id) }

// Save writes the state atomically: encode to a temp file in the session
// directory, then rename over session.json. A crash mid-write leaves the
// previous file intact.
func (s *Store) Save(id string, state *State) error {
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, sessionFileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing session file: %w", err)
	}

	s.logger.Debug("Session saved.", zap.String("id", id), zap.Int("step", state.Step))
	return nil
}

// Load reads and validates a session.
func (s *Store) Load(id string) (*State, error) {
	path := filepath.Join(s.Dir(id), sessionFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	if state.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, state.Version, Version)
	}
	return &state, nil
}

// Entry pairs a session id with its loaded state.
type Entry struct {
	ID    string
	State *State
}

// List returns all readable sessions, newest first. Unreadable or
// incompatible entries are skipped.
func (s *Store) List() ([]Entry, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions dir: %w", err)
	}

	names := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d.IsDir() {
			names = append(names, d.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		state, err := s.Load(name)
		if err != nil {
			s.logger.Debug("Skipping unreadable session.", zap.String("id", name), zap.Error(err))
			continue
		}
		entries = append(entries, Entry{ID: name, State: state})
	}
	return entries, nil
}

// FindLatestResumable returns the newest session that can be resumed.
// Directory names are timestamp-prefixed, so lexical order is
// chronological.
func (s *Store) FindLatestResumable() (Entry, error) {
	entries, err := s.List()
	if err != nil {
		return Entry{}, err
	}
	for _, entry := range entries {
		if entry.State.IsResumable() {
			return entry, nil
		}
	}
	return Entry{}, ErrNoResumableSessions
}

// LoadResumable loads a session and rejects it unless its status allows
// resuming.
func (s *Store) LoadResumable(id string) (*State, error) {
	state, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	if !state.IsResumable() {
		return nil, fmt.Errorf("%w: status is %q", ErrNotResumable, state.Status)
	}
	return state, nil
}
