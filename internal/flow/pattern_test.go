package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPatternWholeWord(t *testing.T) {
	assert.True(t, MatchPattern("pump", "turn the pump on"))
	assert.True(t, MatchPattern("pump", "PUMP it"))
	assert.True(t, MatchPattern("pump", "pump"))
	assert.True(t, MatchPattern("pump", "the pump."))

	assert.False(t, MatchPattern("pump", "pumpkin pie"))
	assert.False(t, MatchPattern("pump", "repump"))
	assert.False(t, MatchPattern("pump", ""))
}

func TestMatchPatternWildcard(t *testing.T) {
	assert.True(t, MatchPattern("*pump*", "pumpkin"))
	assert.True(t, MatchPattern("infl*", "inflate it"))
	assert.False(t, MatchPattern("infl*", "deflate"))
	assert.True(t, MatchPattern("*now", "do it now"))
	assert.False(t, MatchPattern("*now", "now or later"))
	assert.True(t, MatchPattern("a*b*c", "axxbyyc"))
	assert.False(t, MatchPattern("a*b*c", "acb"))
}

func TestMatchPatternAlternation(t *testing.T) {
	assert.True(t, MatchPattern("pump|inflate", "please inflate"))
	assert.True(t, MatchPattern("pump|inflate", "pump it"))
	assert.False(t, MatchPattern("pump|inflate", "deflate"))
	assert.True(t, MatchPattern("pump | inflate", "inflate"), "whitespace around alternatives is trimmed")
}

func TestMatchPatternUnicodeFolding(t *testing.T) {
	assert.True(t, MatchPattern("straße", "die STRASSE dort"))
	assert.True(t, MatchPattern("café", "Ein Café bitte"))
}

func TestMatchPatternEmptyAndBlank(t *testing.T) {
	assert.False(t, MatchPattern("", "anything"))
	assert.False(t, MatchPattern("   ", "anything"))
	assert.False(t, MatchPattern("|", "anything"))
}

func TestMatchAny(t *testing.T) {
	assert.True(t, MatchAny([]string{"nope", "pump"}, "pump it"))
	assert.False(t, MatchAny([]string{"nope", "nada"}, "pump it"))
	assert.False(t, MatchAny(nil, "pump it"))
}
