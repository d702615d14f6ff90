package memory

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultTranscriptPath is where exchanges land when no override is
// configured.
const DefaultTranscriptPath = "chat_history.txt"

// Transcript appends every completed exchange to a plain-text log so users
// can read back their coaching history outside the app. One entry per
// exchange: the user line, the winning model line, the response body, and a
// separator rule.
type Transcript struct {
	mu   sync.Mutex
	path string
}

// NewTranscript creates a transcript writer for the given path. An empty
// path selects DefaultTranscriptPath.
func NewTranscript(path string) *Transcript {
	if path == "" {
		path = DefaultTranscriptPath
	}
	return &Transcript{path: path}
}

// Path returns the transcript file location.
func (t *Transcript) Path() string { return t.path }

// Append writes one exchange to the transcript file, creating it on first
// use. Appends are serialized so concurrent evaluations never interleave
// entries.
func (t *Transcript) Append(exchange Exchange) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "\nUser: %s\n", exchange.UserInput)
	fmt.Fprintf(&b, "Best Model: %s\n", exchange.Winner)
	fmt.Fprintf(&b, "AI Response:\n%s\n", exchange.Response)
	b.WriteString(strings.Repeat("=", 50) + "\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
