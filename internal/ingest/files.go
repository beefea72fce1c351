package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/ppiankov/claimledger/internal/model"
	"gopkg.in/yaml.v3"
)

// Extensions are the file suffixes recognised as draft files
var Extensions = []string{".yaml", ".yml", ".json"}

// IsDraftFile reports whether path has a draft file extension
func IsDraftFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Expand resolves files, directories and ** glob patterns into a sorted,
// de-duplicated list of draft files
// A directory expands to every draft file below it.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
	}

	for _, pattern := range patterns {
		info, err := os.Stat(pattern)
		if err == nil && !info.IsDir() {
			add(pattern)
			continue
		}

		glob := pattern
		if err == nil && info.IsDir() {
			glob = filepath.Join(pattern, "**", "*")
		}

		matches, err := doublestar.FilepathGlob(glob, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		found := 0
		for _, m := range matches {
			if IsDraftFile(m) {
				add(m)
				found++
			}
		}
		if found == 0 {
			return nil, model.Errorf(model.ErrValidation, "no draft files match %q", pattern)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Record is one draft read from a file
type Record struct {
	Source string // file path and position, for messages
	Draft  Draft
}

// LoadFile decodes every draft in path
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open draft file: %w", err)
	}
	defer func() { _ = f.Close() }()

	drafts, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	records := make([]Record, len(drafts))
	for i, d := range drafts {
		records[i] = Record{Source: fmt.Sprintf("%s#%d", path, i+1), Draft: d}
	}
	return records, nil
}

// LoadEvidence reads a YAML list of evidence entries
func LoadEvidence(path string) ([]model.EvidenceItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence file: %w", err)
	}

	var drafts []EvidenceDraft
	if err := yaml.Unmarshal(data, &drafts); err != nil {
		return nil, model.Errorf(model.ErrValidation, "%s: %v", path, err)
	}

	items := make([]model.EvidenceItem, 0, len(drafts))
	for i := range drafts {
		if err := draftValidate.Struct(&drafts[i]); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				return nil, model.Errorf(model.ErrValidation, "%s: evidence %d: %s", path, i+1, describeAll(verrs))
			}
			return nil, model.Errorf(model.ErrValidation, "%s: evidence %d: %v", path, i+1, err)
		}
		items = append(items, drafts[i].toItem(""))
	}
	return items, nil
}
