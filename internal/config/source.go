package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// source resolves a key from the environment first and the optional YAML
// file second. File keys use the same names as the environment variables.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	raw := map[string]any{}
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		s.file[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return s, nil
}

func (s *source) lookup(key string) (string, bool) {
	if val := os.Getenv(key); val != "" {
		return val, true
	}
	val, ok := s.file[key]
	return val, ok && val != ""
}

func (s *source) str(key, defaultVal string) string {
	if val, ok := s.lookup(key); ok {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

func (s *source) integer(key string, defaultVal int) int {
	if val, ok := s.lookup(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func (s *source) float(key string, defaultVal float64) float64 {
	if val, ok := s.lookup(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func (s *source) boolean(key string, defaultVal bool) bool {
	if val, ok := s.lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

func (s *source) duration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := s.lookup(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}
