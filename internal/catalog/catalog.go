// Package catalog loads the provider catalog. Loading is tolerant: entries
// that fail validation are skipped and reported, and only an unreadable or
// unparseable file fails the load.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/validation"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned by Load when the file parses but holds no
// provider entries at all.
var ErrEmptyCatalog = errors.New("catalog has no provider entries")

// Catalog is an ordered, read-only set of providers. It is safe for
// concurrent use.
type Catalog struct {
	providers []models.Provider
	byID      map[string]int

	skipped []Skipped
}

// Skipped describes a catalog entry that was not loaded.
type Skipped struct {
	Index  int
	ID     string
	Reason string
}

// New builds a catalog from already-decoded providers. Later duplicates of an
// id are dropped.
func New(providers []models.Provider) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(providers))}
	for i, p := range providers {
		if _, dup := c.byID[p.ID]; dup {
			c.skipped = append(c.skipped, Skipped{Index: i, ID: p.ID, Reason: "duplicate provider id"})
			continue
		}
		c.byID[p.ID] = len(c.providers)
		c.providers = append(c.providers, p)
	}
	return c
}

// Load reads a .json, .yaml or .yml catalog. The document is either a list of
// providers or an object with a "providers" list.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog: %w", err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing provider catalog %s: %w", path, err)
	}

	entries, err := entryList(doc)
	if err != nil {
		return nil, fmt.Errorf("provider catalog %s: %w", path, err)
	}

	c := Parse(entries)
	for _, s := range c.skipped {
		slog.Warn("Skipping provider catalog entry", "path", path, "index", s.Index, "id", s.ID, "reason", s.Reason)
	}

	return c, nil
}

// Parse converts decoded entries into a catalog, skipping malformed ones.
func Parse(entries []any) *Catalog {
	var (
		providers []models.Provider
		skipped   []Skipped
	)

	for i, raw := range entries {
		p, err := decodeEntry(raw)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, ID: entryID(raw), Reason: err.Error()})
			continue
		}
		providers = append(providers, p)
	}

	c := New(providers)
	c.skipped = append(skipped, c.skipped...)
	return c
}

func entryList(doc any) ([]any, error) {
	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if list, ok := v["providers"].([]any); ok {
			return list, nil
		}
		return nil, ErrEmptyCatalog
	case nil:
		return nil, ErrEmptyCatalog
	default:
		return nil, fmt.Errorf("expected a list of providers, got %T", doc)
	}
}

func decodeEntry(raw any) (models.Provider, error) {
	entry, ok := raw.(map[string]any)
	if !ok {
		return models.Provider{}, fmt.Errorf("entry is %T, not an object", raw)
	}

	if errs := validation.ValidateProvider(entry); len(errs) > 0 {
		return models.Provider{}, errors.New(strings.Join(errs, "; "))
	}

	normalizeHours(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return models.Provider{}, err
	}

	p := models.Provider{
		ReceptionistStyle:   models.StyleProfessional,
		AvailabilityProfile: models.DefaultAvailabilityProfile(),
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Provider{}, err
	}

	p.ReceptionistStyle = p.ReceptionistStyle.Normalize()
	return p, nil
}

// normalizeHours maps the legacy weekday_hours pair onto weekday_open and
// weekday_close, without overriding explicit values.
func normalizeHours(entry map[string]any) {
	profile, ok := entry["availability_profile"].(map[string]any)
	if !ok {
		return
	}

	hours, ok := profile["weekday_hours"].([]any)
	delete(profile, "weekday_hours")
	if !ok || len(hours) != 2 {
		return
	}

	if _, set := profile["weekday_open"]; !set {
		profile["weekday_open"] = hours[0]
	}
	if _, set := profile["weekday_close"]; !set {
		profile["weekday_close"] = hours[1]
	}
}

func entryID(raw any) string {
	if m, ok := raw.(map[string]any); ok {
		if id, ok := m["id"].(string); ok {
			return id
		}
	}
	return ""
}

// Providers returns the providers in catalog order.
func (c *Catalog) Providers() []models.Provider {
	return append([]models.Provider(nil), c.providers...)
}

func (c *Catalog) Get(id string) (models.Provider, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.Provider{}, false
	}
	return c.providers[i], true
}

func (c *Catalog) Len() int { return len(c.providers) }

// Skipped lists the entries that were not loaded.
func (c *Catalog) Skipped() []Skipped {
	return append([]Skipped(nil), c.skipped...)
}
