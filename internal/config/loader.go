package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// LoadSettingsFile parses one JSON5 settings file into a map. Missing files
// return an empty map; malformed files return an error.
func LoadSettingsFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	var settings map[string]any
	if err := json5.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

// LoadContextFile reads a markdown context file, splitting an optional
// simple frontmatter block (`key: value` lines between --- fences) from the
// body. Missing files return empty values.
func LoadContextFile(path string) (map[string]string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read context %s: %w", path, err)
	}
	return parseFrontmatter(string(data))
}

func parseFrontmatter(content string) (map[string]string, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, nil
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, content, nil
	}
	meta := make(map[string]string)
	for _, line := range strings.Split(rest[:end], "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, nil
}
