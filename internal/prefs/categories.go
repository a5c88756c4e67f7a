package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const categoriesFile = "categories.json"

// Store keeps small user preferences as JSON files under Dir.
type Store struct {
	Dir string
}

// Default stores preferences in the user config directory.
func Default() (Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return Store{}, errors.Wrap(err, "locate config dir")
	}
	return Store{Dir: filepath.Join(dir, "budgettracker")}, nil
}

func (s Store) categoriesPath() (string, error) {
	if s.Dir == "" {
		return "", errors.New("prefs: directory not set")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create prefs dir")
	}
	return filepath.Join(s.Dir, categoriesFile), nil
}

// SaveCategories persists the category list annotators choose from. Blank and repeated
// names are dropped.
func (s Store) SaveCategories(cats []string) error {
	path, err := s.categoriesPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(clean(cats), "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write categories")
	}
	return os.Rename(tmp, path)
}

// LoadCategories returns the saved list, or nil when none was saved.
func (s Store) LoadCategories() ([]string, error) {
	path, err := s.categoriesPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read categories")
	}
	var cats []string
	if err := json.Unmarshal(data, &cats); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return clean(cats), nil
}

func clean(cats []string) []string {
	seen := make(map[string]bool, len(cats))
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
