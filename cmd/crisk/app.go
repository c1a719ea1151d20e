package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/crisk-verify/internal/cache"
	"github.com/rohankatakam/crisk-verify/internal/dlq"
	"github.com/rohankatakam/crisk-verify/internal/orchestrator"
)

// app bundles the orchestrator with the resources it was built from
type app struct {
	orch    *orchestrator.Orchestrator
	archive *dlq.Queue
	redis   *cache.RedisClient
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{}
	var opts []orchestrator.Option

	if cfg.Cache.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword,
			cfg.Cache.KeyPrefix, cfg.Orchestrator.CacheTTL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using process-local cache only")
		} else {
			a.redis = client
			opts = append(opts, orchestrator.WithRemoteCache(client))
		}
	}

	archive, err := openArchive()
	if err != nil {
		a.close()
		return nil, err
	}
	a.archive = archive

	if archive != nil {
		opts = append(opts, orchestrator.WithArchive(archive))
	}

	a.orch = orchestrator.New(logger, cfg, opts...)
	return a, nil
}

// openArchive opens the configured error report archive; nil when disabled
func openArchive() (*dlq.Queue, error) {
	if cfg.Recovery.ArchivePath == "" {
		return nil, nil
	}
	q, err := dlq.Open(cfg.Recovery.ArchivePath, cfg.Recovery.ArchiveMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to open error archive: %w", err)
	}
	return q, nil
}

func (a *app) shutdown(ctx context.Context) {
	if a.orch != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Orchestrator shutdown failed")
		}
	}
	a.close()
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.archive != nil {
		a.archive.Close()
	}
}

// render writes v in the selected output format
func render(w io.Writer, v interface{}) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		node, err := yamlNode(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(node)
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", outputFormat)
	}
}

// yamlNode converts v through its JSON encoding so YAML output uses the same
// field names and order as JSON output
func yamlNode(v interface{}) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to convert output: %w", err)
	}
	blockStyle(&node)
	return &node, nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// manifest is the batch input file
type manifest struct {
	Requests []manifestEntry `yaml:"requests"`
}

type manifestEntry struct {
	orchestrator.VerificationRequest `yaml:",inline"`
	ContentFile                      string `yaml:"content_file,omitempty"`
}

// loadManifest reads a YAML manifest. content_file paths are relative to the
// manifest and fill Content when it is empty.
func loadManifest(path string) ([]*orchestrator.VerificationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	requests := make([]*orchestrator.VerificationRequest, len(m.Requests))
	for i := range m.Requests {
		entry := m.Requests[i]
		if entry.Content == "" && entry.ContentFile != "" {
			contentPath := entry.ContentFile
			if !filepath.IsAbs(contentPath) {
				contentPath = filepath.Join(base, contentPath)
			}
			content, err := os.ReadFile(contentPath)
			if err != nil {
				return nil, fmt.Errorf("request %d: %w", i, err)
			}
			entry.Content = string(content)
			if entry.FilePath == "" {
				entry.FilePath = entry.ContentFile
			}
		}
		req := entry.VerificationRequest
		requests[i] = &req
	}
	return requests, nil
}
