package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TickerList is a static ticker universe, used when no registry database is
// available.
type TickerList struct {
	Tickers []string `yaml:"tickers"`
}

// LoadTickerList loads a ticker universe from the given path. Blank entries and
// duplicates are dropped; the first occurrence keeps its position.
func LoadTickerList(path string) (*TickerList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tickers file: %w", err)
	}
	var list TickerList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse tickers file: %w", err)
	}
	seen := make(map[string]struct{}, len(list.Tickers))
	out := list.Tickers[:0]
	for _, t := range list.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	list.Tickers = out
	return &list, nil
}
