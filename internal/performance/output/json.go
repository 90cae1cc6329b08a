package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/katunilya/surge/internal/performance/engine"
)

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s *engine.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// WriteJSONFile writes the summary to path, or to stdout when path is "-".
func WriteJSONFile(path string, s *engine.Summary) error {
	if path == "-" {
		return WriteJSON(os.Stdout, s)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
