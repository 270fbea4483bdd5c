package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// TranscriptDoc is a transcript file read from disk.
type TranscriptDoc struct {
	FileName    string
	Application string
	Text        string
}

var transcriptExts = map[string]bool{".txt": true, ".md": true, ".vtt": true, ".srt": true}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadTranscriptFile reads a plain-text transcript. Files that are not
// valid UTF-8 are decoded as Windows-1252, which is what meeting tools on
// Windows tend to export.
func ReadTranscriptFile(path string) (*TranscriptDoc, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !transcriptExts[ext] {
		return nil, eris.Errorf("ingest: unsupported transcript format %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read transcript")
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: decode %s", filepath.Base(path))
	}
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("ingest: transcript %s is empty", filepath.Base(path))
	}

	name := filepath.Base(path)
	return &TranscriptDoc{
		FileName:    name,
		Application: AppNameFromFile(name),
		Text:        text,
	}, nil
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Truncate limits text to limit runes. A non-positive limit leaves it intact.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
