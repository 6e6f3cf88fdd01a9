package usage

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fieldbill/fieldbill/pkg/identity"
)

// Catalog maps user classes to their per-period limits. Loaded once at
// startup from a YAML file; classes without an entry fall back to the
// default entry, and a missing default means unlimited.
type Catalog struct {
	Default Limits                       `yaml:"default"`
	Classes map[identity.UserType]Limits `yaml:"classes"`

	hasDefault bool
}

type catalogFile struct {
	Default *Limits                      `yaml:"default"`
	Classes map[identity.UserType]Limits `yaml:"classes"`
}

// ParseCatalog decodes a YAML limit catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse limit catalog: %w", err)
	}

	c := &Catalog{Classes: f.Classes}
	if c.Classes == nil {
		c.Classes = make(map[identity.UserType]Limits)
	}
	if f.Default != nil {
		c.Default = *f.Default
		c.hasDefault = true
	}
	return c, nil
}

// LoadCatalog reads a YAML limit catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open limit catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// UnlimitedCatalog returns a catalog that never enforces anything.
func UnlimitedCatalog() *Catalog {
	return &Catalog{
		Default:    Limits{DataDownloads: Unlimited, APICalls: Unlimited},
		Classes:    make(map[identity.UserType]Limits),
		hasDefault: true,
	}
}

// LimitsFor resolves the limits for a user class.
func (c *Catalog) LimitsFor(class identity.UserType) Limits {
	if l, ok := c.Classes[class]; ok {
		return l
	}
	if c.hasDefault {
		return c.Default
	}
	return Limits{DataDownloads: Unlimited, APICalls: Unlimited}
}
