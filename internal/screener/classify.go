package screener

import (
	"regexp"
	"strings"

	"squeeze-discovery/internal/domain"
)

// RunOutput is what a finished scan process left behind.
type RunOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool // killed by our own budget enforcement
}

var (
	authPhrases   = []string{"unauthorized", "forbidden", "invalid api key", "invalid key"}
	serverPhrases = []string{"timeout", "timed out", "connection error", "connection refused", "connection reset"}

	// Status codes must stand alone so "1500 symbols" is not a server error.
	authCodes   = regexp.MustCompile(`\b(401|403)\b`)
	serverCodes = regexp.MustCompile(`\b(500|502|503|504)\b`)
)

// Classify inspects the combined process output for failure signatures.
// Auth signatures win over server signatures. A budget kill is a server failure.
func Classify(out RunOutput) domain.FailureClass {
	text := strings.ToLower(out.Stdout + "\n" + out.Stderr)

	if authCodes.MatchString(text) || containsAny(text, authPhrases) {
		return domain.FailureAuth
	}
	if out.TimedOut || serverCodes.MatchString(text) || containsAny(text, serverPhrases) {
		return domain.FailureServer
	}
	return domain.FailureNone
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
