package server

import (
	"html/template"
	"net/http"

	"github.com/MrWong99/voicemimic/internal/observe"
)

var testAudioPage = template.Must(template.New("test-audio").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Audio Test</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; margin: 50px; }
        .container { max-width: 600px; margin: 0 auto; }
        audio { width: 100%; margin: 20px 0; }
        .download { display: block; margin: 20px auto; padding: 10px; background: #4F46E5; color: white; text-decoration: none; border-radius: 5px; }
        .message { margin: 20px 0; padding: 10px; background: #f0f0f0; border-radius: 5px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Audio Test Page</h1>
        <p>This is a test page to verify audio playback works in your browser.</p>

        <div class="message">
            If you can hear a tone when you press play, audio playback is working correctly.
        </div>

        <audio controls>
            <source src="/synthesized/{{.}}" type="audio/wav">
            Your browser does not support the audio element.
        </audio>

        <a href="/synthesized/{{.}}?download=true" class="download">Download Test Audio</a>

        <div>
            <p>If you can't hear anything:</p>
            <ul style="text-align: left;">
                <li>Check your system volume</li>
                <li>Try using the download link and play the file in your media player</li>
                <li>Try a different browser</li>
                <li>Check browser console for errors</li>
            </ul>
        </div>
    </div>
</body>
</html>
`))

// handleTestAudio handles GET /test-audio. It regenerates the test tone and
// returns a page that plays it.
func (s *Server) handleTestAudio(w http.ResponseWriter, r *http.Request) {
	name, err := s.svc.TestTone(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("test tone failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error generating test audio: " + err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := testAudioPage.Execute(w, name); err != nil {
		observe.Logger(r.Context()).Warn("render test page", "err", err)
	}
}
