// Package language provides the read-only language registry. Languages are
// loaded from the database once at startup; every pipeline stage resolves
// tool-specific language codes through the registry without further queries.
package language

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/docmill/docmill/internal/storage"
)

// DefaultCode is the ISO 639-3 code assumed for files placed directly in the
// inbox root rather than a language subdirectory.
const DefaultCode = "eng"

// Registry holds the active languages for one process invocation.
type Registry struct {
	byID  map[int64]*storage.Language
	byISO map[string]*storage.Language
	all   []*storage.Language
}

// Load reads all active languages from the repository and builds the
// registry. The default language must be among them.
func Load(ctx context.Context, repo *storage.LanguageRepository) (*Registry, error) {
	languages, err := repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active languages: %w", err)
	}
	if len(languages) == 0 {
		return nil, fmt.Errorf("language registry is empty, run init-db first")
	}

	r := &Registry{
		byID:  make(map[int64]*storage.Language, len(languages)),
		byISO: make(map[string]*storage.Language, len(languages)),
		all:   languages,
	}
	for _, lang := range languages {
		r.byID[lang.ID] = lang
		r.byISO[lang.CodeISO6393] = lang
	}

	if _, ok := r.byISO[DefaultCode]; !ok {
		return nil, fmt.Errorf("default language %q is missing or inactive", DefaultCode)
	}
	return r, nil
}

// ByID resolves a language by its database id. An unknown id indicates a
// corrupted document row and is returned as an error for the caller to treat
// as fatal.
func (r *Registry) ByID(id int64) (*storage.Language, error) {
	lang, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown or inactive language id %d", id)
	}
	return lang, nil
}

// ByISO resolves a language by its ISO 639-3 code.
func (r *Registry) ByISO(code string) (*storage.Language, error) {
	lang, ok := r.byISO[code]
	if !ok {
		return nil, fmt.Errorf("unknown or inactive language code %q", code)
	}
	return lang, nil
}

// Default returns the language used for the inbox root.
func (r *Registry) Default() *storage.Language {
	return r.byISO[DefaultCode]
}

// All returns the active languages ordered by ISO code.
func (r *Registry) All() []*storage.Language {
	return r.all
}

// seedEntry is one language in the YAML seed file.
type seedEntry struct {
	Active             bool   `yaml:"active"`
	CodeISO6393        string `yaml:"code_iso_639_3"`
	CodeConverter      string `yaml:"code_converter"`
	CodeOCR            string `yaml:"code_ocr"`
	CodeTokenizer      string `yaml:"code_tokenizer"`
	DirectoryNameInbox string `yaml:"directory_name_inbox"`
	Name               string `yaml:"name"`
}

type seedFile struct {
	Languages []seedEntry `yaml:"languages"`
}

// Seed inserts the languages from a YAML seed file, skipping codes that
// already exist. When path is empty only the built-in default is seeded.
func Seed(ctx context.Context, repo *storage.LanguageRepository, path string) (int, error) {
	entries := []seedEntry{{
		Active:        true,
		CodeISO6393:   DefaultCode,
		CodeConverter: "en",
		CodeOCR:       "eng",
		CodeTokenizer: "en_core_web_sm",
		Name:          "English",
	}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read language seed file: %w", err)
		}
		var sf seedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return 0, fmt.Errorf("parse language seed file %s: %w", path, err)
		}
		entries = append(entries, sf.Languages...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CodeISO6393 < entries[j].CodeISO6393
	})

	created := 0
	for _, e := range entries {
		if e.CodeISO6393 == "" {
			return created, fmt.Errorf("language seed entry %q has no ISO code", e.Name)
		}
		_, err := repo.GetByISO(ctx, e.CodeISO6393)
		if err == nil {
			continue
		}
		if err != storage.ErrNotFound {
			return created, err
		}

		lang := &storage.Language{
			Active:             e.Active,
			CodeISO6393:        e.CodeISO6393,
			CodeConverter:      e.CodeConverter,
			CodeOCR:            e.CodeOCR,
			CodeTokenizer:      e.CodeTokenizer,
			DirectoryNameInbox: e.DirectoryNameInbox,
			Name:               e.Name,
		}
		if err := repo.Create(ctx, lang); err != nil {
			return created, fmt.Errorf("seed language %s: %w", e.CodeISO6393, err)
		}
		created++
	}
	return created, nil
}
