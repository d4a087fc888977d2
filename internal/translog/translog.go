// Package translog appends chat transcript lines to per-conversation text
// files. Writes are best effort: failures are logged and swallowed.
package translog

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Writer implements chat.Transcript on top of a log directory.
type Writer struct {
	dir string
	log *zerolog.Logger
}

// New creates the transcript directory if needed. A nil Writer is returned
// on failure so chat logging degrades to memory only.
func New(dir string, logger *zerolog.Logger) *Writer {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("cannot create transcript dir, disabling transcripts")
		return nil
	}
	return &Writer{dir: dir, log: logger}
}

// AppendLine appends one line to the conversation's transcript file.
func (w *Writer) AppendLine(conversation, line string) {
	path := filepath.Join(w.dir, conversation+".txt")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		w.log.Warn().Err(err).Str("conversation", conversation).Msg("open transcript")
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		w.log.Warn().Err(err).Str("conversation", conversation).Msg("write transcript")
	}
}
