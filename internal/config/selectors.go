package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"practo-harvester/internal/scraper"
)

// LoadSelectors загружает цепочки селекторов из YAML файла.
// Цепочки, не указанные в файле, берутся из scraper.DefaultSelectors.
func LoadSelectors(filePath string) (*scraper.Selectors, error) {
	if filePath == "" {
		return nil, fmt.Errorf("selectors file path is empty")
	}

	// Проверяем существование файла
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("selectors file not found: %s: %w", filePath, err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open selectors file: %w", err)
	}

	// Парсим YAML
	selectors := scraper.DefaultSelectors()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(selectors); err != nil {
		return nil, fmt.Errorf("failed to parse selectors YAML: %w", err)
	}

	// Валидируем селекторы
	if err := validateSelectors(selectors); err != nil {
		return nil, err
	}

	return selectors, nil
}

// Selectors: селекторы из selectors_file (относительно файла конфига)
// или встроенные, если файл не задан
func (c *Config) Selectors() (*scraper.Selectors, error) {
	if c.SelectorsFile == "" {
		return scraper.DefaultSelectors(), nil
	}

	filePath := c.SelectorsFile
	// Если путь относительный, делаем его относительно конфига
	if !filepath.IsAbs(filePath) && c.path != "" {
		filePath = filepath.Join(filepath.Dir(c.path), filePath)
	}

	return LoadSelectors(filePath)
}

// validateSelectors проверяет минимальный набор цепочек и синтаксис каждого правила
func validateSelectors(s *scraper.Selectors) error {
	if len(s.ProfileLinks) == 0 {
		return fmt.Errorf("profile_links is required")
	}
	if len(s.Name) == 0 {
		return fmt.Errorf("name is required")
	}

	named := s.Named()
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, rule := range named[name] {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}

	return nil
}
