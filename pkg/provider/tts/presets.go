package tts

import (
	"strings"
	"unicode"
)

const (
	// DefaultPreset is used when a request names no voice.
	DefaultPreset = "female_1"

	// FallbackHistoryPrompt is the Bark speaker used for unknown presets.
	FallbackHistoryPrompt = "v2/en_speaker_0"
)

// Preset is a named, engine-independent voice.
type Preset struct {
	Key           string
	HistoryPrompt string
}

// presets is ordered the way the voice list presents them.
var presets = []Preset{
	{Key: "male_1", HistoryPrompt: "v2/en_speaker_0"},
	{Key: "male_2", HistoryPrompt: "v2/en_speaker_1"},
	{Key: "male_3", HistoryPrompt: "v2/en_speaker_2"},
	{Key: "female_1", HistoryPrompt: "v2/en_speaker_3"},
	{Key: "female_2", HistoryPrompt: "v2/en_speaker_4"},
	{Key: "female_3", HistoryPrompt: "v2/en_speaker_5"},
	{Key: "male_excited", HistoryPrompt: "v2/en_speaker_6"},
	{Key: "female_excited", HistoryPrompt: "v2/en_speaker_7"},
	{Key: "male_american", HistoryPrompt: "v2/en_speaker_8"},
	{Key: "female_american", HistoryPrompt: "v2/en_speaker_9"},
}

// Presets returns a copy of the preset table in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset returns the preset with the given key.
func LookupPreset(key string) (Preset, bool) {
	for _, p := range presets {
		if p.Key == key {
			return p, true
		}
	}
	return Preset{}, false
}

// DisplayName returns the label shown to users, e.g. "AI Voice: Female 1".
func (p Preset) DisplayName() string {
	return "AI Voice: " + titleWords(strings.ReplaceAll(p.Key, "_", " "))
}

// Profile returns the preset as a VoiceProfile.
func (p Preset) Profile() VoiceProfile {
	return VoiceProfile{
		ID:       p.Key,
		Name:     p.DisplayName(),
		Metadata: map[string]string{MetaHistoryPrompt: p.HistoryPrompt},
	}
}

// ResolvePreset maps a preset key to a profile. An empty key selects
// [DefaultPreset]; an unknown key keeps its ID but speaks with
// [FallbackHistoryPrompt].
func ResolvePreset(key string) VoiceProfile {
	if key == "" {
		key = DefaultPreset
	}
	if p, ok := LookupPreset(key); ok {
		return p.Profile()
	}
	return VoiceProfile{
		ID:       key,
		Name:     key,
		Metadata: map[string]string{MetaHistoryPrompt: FallbackHistoryPrompt},
	}
}

// titleWords upper-cases the first letter of every word and lower-cases the
// rest.
func titleWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := true
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r):
			b.WriteRune(r)
			start = true
		case start:
			b.WriteRune(unicode.ToUpper(r))
			start = false
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
