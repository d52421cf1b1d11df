// Package personas reads persona enrollment documents.
//
// A document lists personas for one experiment:
//
//	experiment: public
//	personas:
//	  - username: DadBot
//	    voice: A dad who loves puns and grilling.
//	    active: true
//	    model: gpt-4o-mini
package personas

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness"
)

//go:embed schema.json
var schema []byte

// Document is a parsed enrollment document.
type Document struct {
	Experiment string  `yaml:"experiment"`
	Entries    []Entry `yaml:"personas"`
}

// Entry is one persona of a Document.
type Entry struct {
	Username   string `yaml:"username"`
	Voice      string `yaml:"voice"`
	Active     *bool  `yaml:"active"` // defaults to true
	Experiment string `yaml:"experiment"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
}

// Store persists enrolled personas.
type Store interface {
	UpsertPersona(ctx context.Context, p discourse.Persona) (discourse.Persona, error)
}

// Parse validates data against the enrollment schema and decodes it.
func Parse(data []byte) (Document, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return Document{}, fmt.Errorf("failed to parse persona document: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return Document{}, fmt.Errorf("persona document is not JSON-compatible: %w", err)
	}
	if err := harness.NewJSONValidator().Validate(asJSON, schema); err != nil {
		return Document{}, fmt.Errorf("%w: %w", harness.ErrInvalidPersona, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode persona document: %w", err)
	}
	return doc, nil
}

// LoadFile reads and parses the document at path.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Personas resolves every entry's experiment. experiment, when set, overrides the
// document and the entries.
func (d Document) Personas(experiment string) ([]discourse.Persona, error) {
	out := make([]discourse.Persona, 0, len(d.Entries))
	for _, e := range d.Entries {
		tenant := experiment
		if tenant == "" {
			tenant = e.Experiment
		}
		if tenant == "" {
			tenant = d.Experiment
		}
		if tenant == "" {
			return nil, fmt.Errorf("%w: persona %s has no experiment", harness.ErrInvalidPersona, e.Username)
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		out = append(out, discourse.Persona{
			Username: e.Username,
			TenantID: tenant,
			Voice:    strings.TrimSpace(e.Voice),
			Active:   active,
			Credentials: discourse.Credentials{
				APIKey:  e.APIKey,
				BaseURL: e.BaseURL,
				Model:   e.Model,
			},
		})
	}
	return out, nil
}

// Enroll upserts every persona of the document and returns the stored personas.
func Enroll(ctx context.Context, store Store, doc Document, experiment string) ([]discourse.Persona, error) {
	personas, err := doc.Personas(experiment)
	if err != nil {
		return nil, err
	}
	stored := make([]discourse.Persona, 0, len(personas))
	for _, p := range personas {
		s, err := store.UpsertPersona(ctx, p)
		if err != nil {
			return stored, err
		}
		stored = append(stored, s)
	}
	return stored, nil
}
