// Package i18n loads the embedded YAML string catalogs.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when a chat has no language or a key is missing.
const DefaultLanguage = "en"

//go:embed locales/*.yaml
var locales embed.FS

// Translator renders a string for a chat in that chat's language.
type Translator interface {
	Text(chatID int64, key string, args ...any) string
}

type locale struct {
	Language struct {
		Name string `yaml:"name"`
		Flag string `yaml:"flag"`
	} `yaml:"language"`
	Strings map[string]string `yaml:"strings"`
}

// Catalog holds every loaded language.
type Catalog struct {
	locales map[string]locale
}

// Load parses the embedded catalogs.
func Load() (*Catalog, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	c := &Catalog{locales: make(map[string]locale, len(entries))}
	for _, e := range entries {
		raw, err := locales.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", e.Name(), err)
		}
		if err := c.add(strings.TrimSuffix(e.Name(), path.Ext(e.Name())), raw); err != nil {
			return nil, err
		}
	}

	if _, ok := c.locales[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default locale %s is missing", DefaultLanguage)
	}
	return c, nil
}

// MustLoad is Load for package-level initialisation in tests and main.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) add(code string, raw []byte) error {
	var l locale
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return fmt.Errorf("parse locale %s: %w", code, err)
	}
	if l.Strings == nil {
		l.Strings = map[string]string{}
	}
	c.locales[code] = l
	return nil
}

// Text renders key in lang, falling back to English and then to the key itself.
func (c *Catalog) Text(lang, key string, args ...any) string {
	format, ok := c.lookup(lang, key)
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func (c *Catalog) lookup(lang, key string) (string, bool) {
	if l, ok := c.locales[lang]; ok {
		if s, ok := l.Strings[key]; ok {
			return s, true
		}
	}
	s, ok := c.locales[DefaultLanguage].Strings[key]
	return s, ok
}

// Has reports whether lang is a loaded language.
func (c *Catalog) Has(lang string) bool {
	_, ok := c.locales[lang]
	return ok
}

// Languages returns the loaded language codes, sorted.
func (c *Catalog) Languages() []string {
	codes := make([]string, 0, len(c.locales))
	for code := range c.locales {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Name returns the display name of lang.
func (c *Catalog) Name(lang string) string {
	if l, ok := c.locales[lang]; ok && l.Language.Name != "" {
		return l.Language.Name
	}
	return lang
}

// Flag returns the flag emoji of lang, empty when unknown.
func (c *Catalog) Flag(lang string) string {
	return c.locales[lang].Language.Flag
}

// Fixed translates every chat with one language.
type Fixed struct {
	Catalog *Catalog
	Lang    string
}

// Text looks key up in the fixed language, ignoring the chat.
func (f Fixed) Text(_ int64, key string, args ...any) string {
	return f.Catalog.Text(f.Lang, key, args...)
}
