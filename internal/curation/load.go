package curation

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Table file names expected under the curation directory.
const (
	categoriesFile = "categories.yaml"
	namesFile      = "names.yaml"
	taxonomyFile   = "taxonomy.yaml"
	scoringFile    = "scoring.yaml"
)

// Load reads the four curation tables from dir. The scoring file is
// optional; when absent the production defaults apply. The other three
// tables are mandatory.
func Load(dir string) (*Tables, error) {
	t := &Tables{Scoring: DefaultScoringWeights()}

	if err := readYAML(filepath.Join(dir, categoriesFile), &t.Categories); err != nil {
		return nil, err
	}
	if err := readYAML(filepath.Join(dir, namesFile), &t.Names); err != nil {
		return nil, err
	}
	if err := readYAML(filepath.Join(dir, taxonomyFile), &t.Taxonomy); err != nil {
		return nil, err
	}

	scoringPath := filepath.Join(dir, scoringFile)
	if _, err := os.Stat(scoringPath); err == nil {
		if err := readYAML(scoringPath, &t.Scoring); err != nil {
			return nil, err
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.Categories.buildLookup()
	return t, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "curation: read %s", filepath.Base(path))
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "curation: parse %s", filepath.Base(path))
	}
	return nil
}

// Validate checks all tables for internal consistency.
func (t *Tables) Validate() error {
	if len(t.Categories.Mappings) == 0 {
		return eris.New("curation: category table is empty")
	}
	seen := make(map[string]string)
	for internal, m := range t.Categories.Mappings {
		if len(m.SourceCategories) == 0 {
			return eris.Errorf("curation: category %q maps no source categories", internal)
		}
		for _, src := range m.SourceCategories {
			if prev, dup := seen[src]; dup && prev != internal {
				return eris.Errorf("curation: source category %q mapped to both %q and %q", src, prev, internal)
			}
			seen[src] = internal
		}
	}
	return t.Scoring.Validate()
}
