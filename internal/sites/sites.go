// Package sites loads the list of sites to crawl.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultFile is the site list looked for when nothing else is configured.
const DefaultFile = "sites.json"

// Resolve returns the site list from the first source that yields one:
// an explicit file path, the SITES setting (a file path or a comma-separated
// URL list), then ./sites.json. Returns nil when no source produces sites.
func Resolve(explicitPath, sitesValue string, logger *zap.Logger) []string {
	if explicitPath != "" {
		parsed, err := FromFile(explicitPath)
		if err != nil {
			logger.Error("failed to load sites file", zap.String("path", explicitPath), zap.Error(err))
			return nil
		}
		return parsed
	}

	if value := strings.TrimSpace(sitesValue); value != "" {
		if _, err := os.Stat(value); err == nil {
			parsed, err := FromFile(value)
			if err != nil {
				logger.Error("failed to load sites file", zap.String("path", value), zap.Error(err))
				return nil
			}
			return parsed
		}
		return fromCommaList(value)
	}

	if _, err := os.Stat(DefaultFile); err == nil {
		parsed, err := FromFile(DefaultFile)
		if err != nil {
			logger.Warn("failed to load sites.json", zap.Error(err))
			return nil
		}
		return parsed
	}
	return nil
}

// FromFile parses a JSON site list: either a bare array of URLs or an
// object with a "sites" array. Entries that are not http(s) URLs, such as
// commented-out lines, are dropped.
func FromFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePayload(data)
}

func parsePayload(data []byte) ([]string, error) {
	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		return filterSites(list), nil
	}

	var wrapper struct {
		Sites []any `json:"sites"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Sites != nil {
		return filterSites(wrapper.Sites), nil
	}
	return nil, fmt.Errorf("expected a JSON array or an object with a \"sites\" list")
}

func filterSites(entries []any) []string {
	var sites []string
	for _, entry := range entries {
		s, ok := entry.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "http") {
			sites = append(sites, s)
		}
	}
	return sites
}

func fromCommaList(value string) []string {
	var sites []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "http") {
			sites = append(sites, part)
		}
	}
	return sites
}
