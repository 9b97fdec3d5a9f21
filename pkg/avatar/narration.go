package avatar

import (
	"strings"
	"time"

	"github.com/systemstart/showrunner/pkg/api"
)

// WordsPerMinute is the speaking rate used to size narration.
const WordsPerMinute = 150

// MaxWordsFor returns the number of words that fit in d.
func MaxWordsFor(d time.Duration) int {
	return int(d.Minutes() * WordsPerMinute)
}

// NarrationScript joins the section narrations of a finished run into one
// script, cut to at most maxWords words. maxWords <= 0 means no cap.
func NarrationScript(bundle *api.ResultBundle, maxWords int) string {
	if bundle == nil || bundle.Script == nil {
		return ""
	}
	parts := make([]string, 0, len(bundle.Script.Sections))
	for _, s := range bundle.Script.Sections {
		if n := strings.TrimSpace(s.Narration); n != "" {
			parts = append(parts, n)
		}
	}
	script := strings.Join(parts, "\n\n")
	if maxWords <= 0 {
		return script
	}

	words := strings.Fields(script)
	if len(words) <= maxWords {
		return script
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
