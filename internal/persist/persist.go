// Package persist stores the JSON documents the engine consumes: characters,
// personas, and global settings. Documents are whole-file read/write; the
// engine only resolves reminders, buttons, and LLM config from them.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Reminder is one toggleable reminder on a character or the global settings.
type Reminder struct {
	ID      string `json:"id"`
	Text    string `json:"text,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Button is one toggleable quick-action button.
type Button struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	FlowID  string `json:"flowId,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Character is an authored character card, filtered to the fields the
// engine touches.
type Character struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Reminders []Reminder `json:"reminders,omitempty"`
	Buttons   []Button   `json:"buttons,omitempty"`
}

// Persona is the player-side identity.
type Persona struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Settings is the global settings document.
type Settings struct {
	ActiveCharacterID string     `json:"activeCharacterId,omitempty"`
	ActivePersonaID   string     `json:"activePersonaId,omitempty"`
	Reminders         []Reminder `json:"reminders,omitempty"`
	Buttons           []Button   `json:"buttons,omitempty"`
}

// Store reads and writes the JSON documents under one directory. All
// methods are safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a store rooted at dir. The directory is created if
// missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readDoc decodes one document into out. A missing file leaves out at its
// zero value.
func (s *Store) readDoc(name string, out any) error {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// writeDoc writes one document atomically via a temp file rename.
func (s *Store) writeDoc(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp := s.path(name + ".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Characters loads characters.json.
func (s *Store) Characters() ([]Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Character
	if err := s.readDoc("characters.json", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCharacters replaces characters.json.
func (s *Store) SaveCharacters(chars []Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeDoc("characters.json", chars)
}

// Personas loads personas.json.
func (s *Store) Personas() ([]Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Persona
	if err := s.readDoc("personas.json", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Settings loads settings.json.
func (s *Store) Settings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Settings
	if err := s.readDoc("settings.json", &out); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// SaveSettings replaces settings.json.
func (s *Store) SaveSettings(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeDoc("settings.json", st)
}
