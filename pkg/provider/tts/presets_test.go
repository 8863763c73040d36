package tts

import "testing"

func TestResolvePreset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key        string
		wantID     string
		wantPrompt string
		wantName   string
	}{
		{key: "", wantID: "female_1", wantPrompt: "v2/en_speaker_3", wantName: "AI Voice: Female 1"},
		{key: "male_1", wantID: "male_1", wantPrompt: "v2/en_speaker_0", wantName: "AI Voice: Male 1"},
		{key: "male_3", wantID: "male_3", wantPrompt: "v2/en_speaker_2", wantName: "AI Voice: Male 3"},
		{key: "female_excited", wantID: "female_excited", wantPrompt: "v2/en_speaker_7", wantName: "AI Voice: Female Excited"},
		{key: "female_american", wantID: "female_american", wantPrompt: "v2/en_speaker_9", wantName: "AI Voice: Female American"},
		{key: "pirate", wantID: "pirate", wantPrompt: FallbackHistoryPrompt, wantName: "pirate"},
	}
	for _, tt := range tests {
		got := ResolvePreset(tt.key)
		if got.ID != tt.wantID {
			t.Errorf("ResolvePreset(%q).ID = %q, want %q", tt.key, got.ID, tt.wantID)
		}
		if got.HistoryPrompt() != tt.wantPrompt {
			t.Errorf("ResolvePreset(%q) prompt = %q, want %q", tt.key, got.HistoryPrompt(), tt.wantPrompt)
		}
		if got.Name != tt.wantName {
			t.Errorf("ResolvePreset(%q).Name = %q, want %q", tt.key, got.Name, tt.wantName)
		}
	}
}

func TestPresets(t *testing.T) {
	t.Parallel()

	ps := Presets()
	if len(ps) != 10 {
		t.Fatalf("len(Presets()) = %d, want 10", len(ps))
	}
	seen := map[string]bool{}
	for i, p := range ps {
		if seen[p.HistoryPrompt] {
			t.Errorf("duplicate prompt %q", p.HistoryPrompt)
		}
		seen[p.HistoryPrompt] = true
		if want := "v2/en_speaker_" + string(rune('0'+i)); p.HistoryPrompt != want {
			t.Errorf("preset %d (%s) prompt = %q, want %q", i, p.Key, p.HistoryPrompt, want)
		}
	}
	ps[0].Key = "mutated"
	if Presets()[0].Key != "male_1" {
		t.Error("Presets must return a copy")
	}
}

func TestVoiceProfile_HistoryPromptFallback(t *testing.T) {
	t.Parallel()
	if got := (VoiceProfile{ID: "x"}).HistoryPrompt(); got != FallbackHistoryPrompt {
		t.Errorf("HistoryPrompt() = %q, want %q", got, FallbackHistoryPrompt)
	}
}
