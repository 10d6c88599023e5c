package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SchemaDocs holds the per-league table and column documentation. It is the
// planner's identifier allowlist.
type SchemaDocs struct {
	docs map[string]string
}

func NewSchemaDocs(docs map[string]string) *SchemaDocs {
	return &SchemaDocs{docs: docs}
}

// LoadSchemaDocs reads <dir>/<league>.md for every markdown file in dir.
func LoadSchemaDocs(dir string) (*SchemaDocs, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %s: %w", dir, err)
	}
	docs := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs[strings.TrimSuffix(entry.Name(), ".md")] = strings.TrimSpace(string(data))
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no schema documents in %s", dir)
	}
	return &SchemaDocs{docs: docs}, nil
}

func (s *SchemaDocs) For(league string) (string, bool) {
	doc, ok := s.docs[league]
	return doc, ok && doc != ""
}

func (s *SchemaDocs) Leagues() []string {
	out := make([]string, 0, len(s.docs))
	for league := range s.docs {
		out = append(out, league)
	}
	return out
}
