// Package worklist manages the keyword work file. The file is the
// checkpoint unit of the listing phase: a keyword is removed only after
// its records are durably flushed, so an interrupted run resumes by
// simply re-reading what is left.
package worklist

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Keywords are separated by newlines or commas (either width).
var separatorPattern = regexp.MustCompile(`[,，\r\n]+`)

type WorkList struct {
	path     string
	keywords []string
}

// Load reads the work file in full. It is never re-read mid-run.
func Load(path string) (*WorkList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read work file: %w", err)
	}

	text := strings.TrimPrefix(string(data), "\ufeff")
	var keywords []string
	for _, part := range separatorPattern.Split(text, -1) {
		if kw := strings.TrimSpace(part); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &WorkList{path: path, keywords: keywords}, nil
}

// Keywords returns the remaining keywords in file order.
func (w *WorkList) Keywords() []string {
	out := make([]string, len(w.keywords))
	copy(out, w.keywords)
	return out
}

func (w *WorkList) Len() int {
	return len(w.keywords)
}

// Remove checkpoints a completed keyword: it is dropped from the
// in-memory list and the backing file is rewritten without it, one
// keyword per line.
func (w *WorkList) Remove(keyword string) error {
	remaining := w.keywords[:0]
	for _, kw := range w.keywords {
		if kw != keyword {
			remaining = append(remaining, kw)
		}
	}
	w.keywords = remaining

	content := strings.Join(w.keywords, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(w.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite work file: %w", err)
	}
	return nil
}
