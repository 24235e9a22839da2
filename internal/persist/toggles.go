package persist

import "fmt"

// Toggle operations back the engine's toggle_reminder and toggle_button
// actions. Global toggles live on settings.json; character toggles on the
// active character in characters.json.

// ToggleReminder enables or disables one reminder.
func (s *Store) ToggleReminder(id string, isGlobal, enable bool) error {
	if isGlobal {
		return s.toggleGlobal(id, enable, false)
	}
	return s.toggleCharacter(id, enable, false)
}

// ToggleButton enables or disables one quick-action button.
func (s *Store) ToggleButton(id string, isGlobal, enable bool) error {
	if isGlobal {
		return s.toggleGlobal(id, enable, true)
	}
	return s.toggleCharacter(id, enable, true)
}

func (s *Store) toggleGlobal(id string, enable, button bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Settings
	if err := s.readDoc("settings.json", &st); err != nil {
		return err
	}

	found := false
	if button {
		for i := range st.Buttons {
			if st.Buttons[i].ID == id {
				st.Buttons[i].Enabled = enable
				found = true
			}
		}
	} else {
		for i := range st.Reminders {
			if st.Reminders[i].ID == id {
				st.Reminders[i].Enabled = enable
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("no global toggle %q", id)
	}
	return s.writeDoc("settings.json", st)
}

func (s *Store) toggleCharacter(id string, enable, button bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Settings
	if err := s.readDoc("settings.json", &st); err != nil {
		return err
	}
	var chars []Character
	if err := s.readDoc("characters.json", &chars); err != nil {
		return err
	}

	found := false
	for ci := range chars {
		if st.ActiveCharacterID != "" && chars[ci].ID != st.ActiveCharacterID {
			continue
		}
		if button {
			for i := range chars[ci].Buttons {
				if chars[ci].Buttons[i].ID == id {
					chars[ci].Buttons[i].Enabled = enable
					found = true
				}
			}
		} else {
			for i := range chars[ci].Reminders {
				if chars[ci].Reminders[i].ID == id {
					chars[ci].Reminders[i].Enabled = enable
					found = true
				}
			}
		}
	}
	if !found {
		return fmt.Errorf("no character toggle %q", id)
	}
	return s.writeDoc("characters.json", chars)
}
