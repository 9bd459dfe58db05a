package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend persists each record set as a JSON file under one data
// directory. Writes go through a temp file and rename so a crash mid-write
// never corrupts the previous snapshot.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

const (
	importedFile = "imported.json"
	rejectsFile  = "rejects.json"
	retryFile    = "retry_queue.json"
	statsFile    = "stats.json"
	sitemapFile  = "sitemap_cache.json"
	verifiedFile = "verified.json"
	hostsFile    = "hosts.json"
)

func (b *FileBackend) Load(_ context.Context) (*Records, error) {
	r := newRecords()
	if err := b.loadJSON(importedFile, &r.Imported); err != nil {
		return nil, err
	}
	if err := b.loadJSON(rejectsFile, &r.Rejects); err != nil {
		return nil, err
	}
	if err := b.loadJSON(retryFile, &r.Retries); err != nil {
		return nil, err
	}
	if err := b.loadJSON(statsFile, &r.Stats); err != nil {
		return nil, err
	}
	if err := b.loadJSON(sitemapFile, &r.Sitemaps); err != nil {
		return nil, err
	}

	var verified []string
	if err := b.loadJSON(verifiedFile, &verified); err != nil {
		return nil, err
	}
	for _, slug := range verified {
		r.Verified[slug] = struct{}{}
	}

	var hosts struct {
		Hosts []string `json:"hosts"`
	}
	if err := b.loadJSON(hostsFile, &hosts); err != nil {
		return nil, err
	}
	r.Hosts = hosts.Hosts
	return r, nil
}

func (b *FileBackend) Save(_ context.Context, r *Records) error {
	if err := b.saveJSON(importedFile, r.Imported); err != nil {
		return err
	}
	if err := b.saveJSON(rejectsFile, r.Rejects); err != nil {
		return err
	}
	if err := b.saveJSON(retryFile, r.Retries); err != nil {
		return err
	}
	if err := b.saveJSON(statsFile, r.Stats); err != nil {
		return err
	}
	if err := b.saveJSON(sitemapFile, r.Sitemaps); err != nil {
		return err
	}

	verified := make([]string, 0, len(r.Verified))
	for slug := range r.Verified {
		verified = append(verified, slug)
	}
	if err := b.saveJSON(verifiedFile, verified); err != nil {
		return err
	}

	return b.saveJSON(hostsFile, struct {
		Hosts []string `json:"hosts"`
	}{Hosts: r.Hosts})
}

func (b *FileBackend) loadJSON(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) saveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(b.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
