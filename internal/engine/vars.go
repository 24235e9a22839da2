package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// Variable substitution. Placeholder matching is case-insensitive; a
// placeholder that resolves to nothing is left intact so authors can see
// the mistake in the transcript instead of getting silent empties.
//
// Supported forms:
//
//	[Player] [Char] [Capacity] [Pain] [Feeling] [Emotion]
//	[Segments] [Segment] [Roll] [Slots]        (challenge-scoped)
//	[Flow:name]                                 (flow variable)
//	{name}                                      (legacy flow variable)
//
// [Choice] and [Choices] are contextual and substituted at their call
// sites; see SubstituteChoice and choiceListText.

var (
	placeholderRe = regexp.MustCompile(`(?i)\[(player|char|capacity|pain|feeling|emotion|segments|segment|roll|slots)\]`)
	flowVarRe     = regexp.MustCompile(`(?i)\[flow:([^\[\]]+)\]`)
	legacyVarRe   = regexp.MustCompile(`\{([A-Za-z0-9_.-]+)\}`)
	choiceRe      = regexp.MustCompile(`(?i)\[choice\]`)
	choicesRe     = regexp.MustCompile(`(?i)\[choices\]`)
)

// Substitute expands all placeholders against the session.
func (s *Session) Substitute(text string) string {
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.ToLower(m[1 : len(m)-1])
		switch name {
		case "player":
			return s.PlayerName
		case "char":
			return s.CharacterName
		case "capacity":
			return fmt.Sprintf("%d", s.Capacity)
		case "pain", "feeling": // [Feeling] is a legacy alias of [Pain]
			return PainLabel(s.Pain)
		case "emotion":
			return s.Emotion
		case "segments", "segment", "roll", "slots":
			if v, ok := s.ChallengeVars[name]; ok {
				return v
			}
			return m
		}
		return m
	})

	out = flowVarRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := flowVarRe.FindStringSubmatch(m)
		if v, ok := s.lookupFlowVar(sub[1]); ok {
			return v
		}
		return m
	})

	out = legacyVarRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := legacyVarRe.FindStringSubmatch(m)
		if v, ok := s.lookupFlowVar(sub[1]); ok {
			return v
		}
		return m
	})

	return out
}

// lookupFlowVar finds a flow variable case-insensitively.
func (s *Session) lookupFlowVar(name string) (string, bool) {
	if v, ok := s.FlowVariables[name]; ok {
		return v, true
	}
	for k, v := range s.FlowVariables {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// SubstituteChoice expands [Choice] with the chosen label, then applies the
// regular substitutions.
func (s *Session) SubstituteChoice(text, chosenLabel string) string {
	// ReplaceAllStringFunc keeps '$' in labels literal.
	return s.Substitute(choiceRe.ReplaceAllStringFunc(text, func(string) string {
		return chosenLabel
	}))
}

// substituteChoices expands [Choices] with a numbered list of labels, then
// applies the regular substitutions.
func (s *Session) substituteChoices(text string, labels []string) string {
	var b strings.Builder
	for i, l := range labels {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, l)
	}
	list := b.String()
	return s.Substitute(choicesRe.ReplaceAllStringFunc(text, func(string) string {
		return list
	}))
}
