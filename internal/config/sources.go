package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"udata-harvest/internal/domain/entity"
)

// SourceFile is a YAML document declaring harvest sources:
//
//	sources:
//	  - name: Open Data Paris
//	    url: https://opendata.paris.fr
//	    backend: ckan
//	    schedule: "0 3 * * *"
//	    filters:
//	      - {key: tags, value: budget, type: exclude}
//	    features:
//	      autoarchive: false
type SourceFile struct {
	Sources []SourceDefinition `yaml:"sources"`
}

// SourceDefinition is one declared source.
type SourceDefinition struct {
	Name         string          `yaml:"name"`
	Slug         string          `yaml:"slug"`
	Description  string          `yaml:"description"`
	URL          string          `yaml:"url"`
	Backend      string          `yaml:"backend"`
	Organization string          `yaml:"organization"`
	Owner        string          `yaml:"owner"`
	Schedule     string          `yaml:"schedule"`
	Active       *bool           `yaml:"active"`
	MaxItems     *int            `yaml:"max_items"`
	Filters      []entity.Filter `yaml:"filters"`
	Features     map[string]bool `yaml:"features"`
}

// LoadSourceFile reads and checks a source definition file.
// The path is given by the operator on the command line.
func LoadSourceFile(path string) (*SourceFile, error) {
	// #nosec G304 -- path is an operator-provided CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	return ParseSourceFile(data)
}

// ParseSourceFile decodes a source definition document. Unknown keys are
// rejected so that typos do not silently drop settings.
func ParseSourceFile(data []byte) (*SourceFile, error) {
	var file SourceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse source file: %w", err)
	}
	if err := validateSourceFile(&file); err != nil {
		return nil, fmt.Errorf("source file validation failed: %w", err)
	}
	return &file, nil
}

func validateSourceFile(file *SourceFile) error {
	if len(file.Sources) == 0 {
		return errors.New("no sources declared")
	}
	var errs entity.ValidationErrors
	seen := make(map[string]int, len(file.Sources))
	for i, def := range file.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		if strings.TrimSpace(def.Name) == "" {
			errs.Add(path+".name", "is required")
		}
		if def.URL == "" {
			errs.Add(path+".url", "is required")
		}
		if !entity.BackendKind(def.Backend).Valid() {
			errs.Add(path+".backend", fmt.Sprintf("unknown backend %q", def.Backend))
		}
		if def.Slug != "" {
			if j, dup := seen[def.Slug]; dup {
				errs.Add(path+".slug", fmt.Sprintf("duplicates sources[%d]", j))
			}
			seen[def.Slug] = i
		}
	}
	return errs.ErrOrNil()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// OrganizationID returns the organization as an optional id.
func (d SourceDefinition) OrganizationID() *string { return optional(d.Organization) }

// OwnerID returns the owner as an optional id.
func (d SourceDefinition) OwnerID() *string { return optional(d.Owner) }
