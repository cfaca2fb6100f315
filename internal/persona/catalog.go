// Package persona holds the system prompts used for reply generation and
// tracks which one is selected.
package persona

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
)

const (
	// DefaultKey is selected at startup and used when a key has no prompt.
	DefaultKey = "default"

	fallbackSystem = "You are a helpful assistant."
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Persona is one entry of the personas file.
type Persona struct {
	Name   string `json:"name,omitempty"`
	System string `json:"system"`
}

// Catalog is the set of personas plus the current selection.
type Catalog struct {
	mu       sync.RWMutex
	personas map[string]Persona
	current  string
}

// NewCatalog creates a catalog with the default persona selected.
func NewCatalog(personas map[string]Persona) *Catalog {
	if personas == nil {
		personas = map[string]Persona{}
	}
	return &Catalog{personas: personas, current: DefaultKey}
}

// Load reads a JSON object of personas keyed by persona key. A leading
// byte-order mark is ignored.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewCatalog(nil), fmt.Errorf("read personas: %w", err)
	}
	personas, err := Parse(data)
	if err != nil {
		return NewCatalog(nil), err
	}
	return NewCatalog(personas), nil
}

// Parse decodes a personas document.
func Parse(data []byte) (map[string]Persona, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var personas map[string]Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	return personas, nil
}

// Current returns the selected persona key.
func (c *Catalog) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Select makes key the current persona.
func (c *Catalog) Select(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.personas[key]; !ok || key == "" {
		return apperr.Validation("Unknown persona_key")
	}
	c.current = key
	return nil
}

// System returns the prompt for key, falling back to the default persona
// and then to a generic assistant prompt.
func (c *Catalog) System(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.personas[key]; ok && p.System != "" {
		return p.System
	}
	if p, ok := c.personas[DefaultKey]; ok && p.System != "" {
		return p.System
	}
	return fallbackSystem
}

// Keys lists the known persona keys in order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.personas))
	for k := range c.personas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
