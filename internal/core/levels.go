package core

import (
	"strings"

	"github.com/net2share/proxyman/internal/ipc"
)

// levelMarkers maps a level to the substrings core output uses for it.
// Matching is case-insensitive.
var levelMarkers = []struct {
	level   string
	markers []string
}{
	{ipc.LevelDebug, []string{"level=debug", "[debug]"}},
	{ipc.LevelWarn, []string{"level=warning", "level=warn", "[warning]", "[warn]"}},
	{ipc.LevelError, []string{"level=error", "[error]"}},
	{ipc.LevelInfo, []string{"level=info", "[info]"}},
}

// InferLevel picks a log level from markers in the line, falling back to
// the stream default when none match.
func InferLevel(line, fallback string) string {
	lower := strings.ToLower(line)
	for _, lm := range levelMarkers {
		for _, marker := range lm.markers {
			if strings.Contains(lower, marker) {
				return lm.level
			}
		}
	}
	return fallback
}
