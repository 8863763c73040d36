package tts

// MetaHistoryPrompt is the [VoiceProfile.Metadata] key carrying the Bark
// speaker prompt (e.g. "v2/en_speaker_3") for engines that serve Bark.
const MetaHistoryPrompt = "history_prompt"

// VoiceProfile describes a synthesis voice.
type VoiceProfile struct {
	// ID is the voice identifier. For presets this is the preset key
	// ("female_1"); providers map it to their own voice names.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to. Empty for
	// presets, which every provider accepts.
	Provider string

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// HistoryPrompt returns the Bark speaker prompt of v, falling back to
// [FallbackHistoryPrompt].
func (v VoiceProfile) HistoryPrompt() string {
	if p := v.Metadata[MetaHistoryPrompt]; p != "" {
		return p
	}
	return FallbackHistoryPrompt
}
