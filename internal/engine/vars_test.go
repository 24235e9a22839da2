package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSession() *Session {
	s := newSession()
	s.PlayerName = "Sam"
	s.CharacterName = "Nyx"
	s.Capacity = 42
	s.Pain = 3
	s.Emotion = "playful"
	s.FlowVariables["count"] = "7"
	s.ChallengeVars["segment"] = "gold"
	return s
}

func TestSubstitutePlaceholders(t *testing.T) {
	s := sampleSession()

	assert.Equal(t, "Sam and Nyx", s.Substitute("[Player] and [Char]"))
	assert.Equal(t, "at 42 percent", s.Substitute("at [Capacity] percent"))
	assert.Equal(t, "feels Uncomfortable", s.Substitute("feels [Pain]"))
	assert.Equal(t, "feels Uncomfortable", s.Substitute("feels [Feeling]"))
	assert.Equal(t, "mood: playful", s.Substitute("mood: [Emotion]"))
}

func TestSubstituteCaseInsensitive(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, "Sam Sam Sam", s.Substitute("[player] [PLAYER] [Player]"))
}

func TestSubstituteFlowVariables(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, "7 of 7", s.Substitute("[Flow:count] of {count}"))
	assert.Equal(t, "7", s.Substitute("[flow:Count]"), "flow variable lookup folds case")
}

func TestSubstituteChallengeVars(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, "landed on gold", s.Substitute("landed on [Segment]"))
	assert.Equal(t, "no [Roll] yet", s.Substitute("no [Roll] yet"), "unset challenge vars stay intact")
}

func TestSubstituteUnknownLeftIntact(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, "[Flow:ghost] and {ghost}", s.Substitute("[Flow:ghost] and {ghost}"))
}

func TestSubstituteChoice(t *testing.T) {
	s := sampleSession()
	assert.Equal(t, "Sam takes the red pill", s.SubstituteChoice("[Player] takes the [Choice]", "red pill"))
	assert.Equal(t, "a $5 bet", s.SubstituteChoice("a [Choice] bet", "$5"), "dollar signs stay literal")
}

func TestPainLabels(t *testing.T) {
	assert.Equal(t, "None", PainLabel(0))
	assert.Equal(t, "Excruciating", PainLabel(10))
	assert.Equal(t, "None", PainLabel(-3))
	assert.Equal(t, "Excruciating", PainLabel(15))
}
