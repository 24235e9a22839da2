package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scripted engine run with trace assertions.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Flows lists flow JSON files to activate at the global tier, in
	// order. Paths are relative to the scenario file.
	Flows []string `yaml:"flows"`

	// Devices optionally points at a device catalog file.
	Devices string `yaml:"devices,omitempty"`

	// Seed feeds the engine's rand source. Zero means 1.
	Seed int64 `yaml:"seed,omitempty"`

	// LLMResponses script the generator, consumed in order.
	LLMResponses []string `yaml:"llm_responses,omitempty"`

	// Player and Character set the substitution identities.
	Player    string `yaml:"player,omitempty"`
	Character string `yaml:"character,omitempty"`

	// Steps run in order, with the engine drained to quiescence after
	// each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final broadcast trace and device calls.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scripted action. Exactly one field group is set.
type Step struct {
	// Inbound events by engine event type name.
	Event     string `yaml:"event,omitempty"`
	Text      string `yaml:"text,omitempty"`
	DeviceKey string `yaml:"device,omitempty"`
	FlowID    string `yaml:"flow,omitempty"`
	ButtonID  string `yaml:"button,omitempty"`
	Label     string `yaml:"label,omitempty"`

	// Pending-op resolutions.
	Choice    *ChoiceStep    `yaml:"choice,omitempty"`
	Challenge *ChallengeStep `yaml:"challenge,omitempty"`
	Input     *InputStep     `yaml:"input,omitempty"`

	// Player state updates.
	State *StateStep `yaml:"state,omitempty"`

	// Clock and control.
	Advance          string `yaml:"advance,omitempty"` // duration string
	Pause            string `yaml:"pause,omitempty"`
	Resume           bool   `yaml:"resume,omitempty"`
	EmergencyStop    bool   `yaml:"emergency_stop,omitempty"`
	CycleComplete    string `yaml:"cycle_complete,omitempty"`
	DeviceOnComplete string `yaml:"device_on_complete,omitempty"`
}

// ChoiceStep resolves a pending player choice.
type ChoiceStep struct {
	Node  string `yaml:"node"`
	ID    string `yaml:"id"`
	Label string `yaml:"label,omitempty"`
}

// ChallengeStep resolves a pending challenge.
type ChallengeStep struct {
	Node    string            `yaml:"node"`
	Output  string            `yaml:"output"`
	Details map[string]string `yaml:"details,omitempty"`
}

// InputStep resolves a pending input request.
type InputStep struct {
	Node  string `yaml:"node"`
	Value string `yaml:"value"`
}

// StateStep updates one player state dimension.
type StateStep struct {
	Type  string  `yaml:"type"`
	Value float64 `yaml:"value,omitempty"`
	Text  string  `yaml:"text,omitempty"`
}

// LoadScenario reads and parses a scenario file. Relative paths inside the
// scenario are rewritten relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if len(s.Flows) == 0 {
		return nil, fmt.Errorf("scenario %s: no flows", path)
	}

	base := filepath.Dir(path)
	for i, p := range s.Flows {
		if !filepath.IsAbs(p) {
			s.Flows[i] = filepath.Join(base, p)
		}
	}
	if s.Devices != "" && !filepath.IsAbs(s.Devices) {
		s.Devices = filepath.Join(base, s.Devices)
	}
	return &s, nil
}

// LoadScenarios loads every *.yaml scenario under dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, m := range matches {
		s, err := LoadScenario(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
