package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/jmylchreest/abrhls/internal/hls"
	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
)

// RenditionResult is the outcome of one tier of a multi-tier run.
type RenditionResult struct {
	Name      string   `yaml:"name"`
	Playlist  string   `yaml:"playlist"`
	Width     int      `yaml:"width"`
	Height    int      `yaml:"height"`
	Bandwidth int64    `yaml:"bandwidth"`
	Codecs    []string `yaml:"codecs,omitempty"`
	Succeeded bool     `yaml:"succeeded"`
	Error     string   `yaml:"error,omitempty"`
	Stats     Stats    `yaml:"stats"`

	Err error `yaml:"-"`
}

// Orchestrator produces several renditions of one input, one after the
// other, and ties the successful ones together with a master playlist.
type Orchestrator struct {
	lib    media.Library
	opts   Options
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(lib media.Library, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		lib:    lib,
		opts:   opts.withDefaults(),
		logger: observability.WithComponent(logger, "orchestrator"),
	}
}

// Run transcodes input once per tier into outputDir/<tier name>. A failed
// tier does not stop the others. The master playlist lists the tiers that
// succeeded, in the order given; when none succeeded no master playlist is
// written and ErrAllRenditionsFailed is returned.
func (o *Orchestrator) Run(ctx context.Context, input, outputDir string, tiers []RenditionSpec) ([]RenditionResult, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no renditions requested: %w", media.ErrInvalid)
	}
	seen := make(map[string]bool, len(tiers))
	for _, tier := range tiers {
		if tier.Name == "" || seen[tier.Name] {
			return nil, fmt.Errorf("rendition names must be unique and non-empty, got %q: %w", tier.Name, media.ErrInvalid)
		}
		seen[tier.Name] = true
	}

	results := make([]RenditionResult, 0, len(tiers))
	var failures []error
	for _, tier := range tiers {
		res := o.runTier(ctx, input, outputDir, tier)
		if res.Err != nil {
			failures = append(failures, fmt.Errorf("rendition %s: %w", tier.Name, res.Err))
		}
		results = append(results, res)
	}

	var variants []hls.Variant
	for _, res := range results {
		if !res.Succeeded {
			continue
		}
		variants = append(variants, hls.Variant{
			URI:       res.Playlist,
			Bandwidth: res.Bandwidth,
			Width:     res.Width,
			Height:    res.Height,
			Codecs:    res.Codecs,
		})
	}

	if len(variants) == 0 {
		o.logger.Error("no rendition succeeded, master playlist not written",
			slog.String("input", input),
			slog.Int("renditions", len(tiers)),
		)
		return results, fmt.Errorf("%w: %w", ErrAllRenditionsFailed, errors.Join(failures...))
	}

	masterPath := filepath.Join(outputDir, o.opts.MasterPlaylistName)
	if err := hls.WriteMasterPlaylist(masterPath, variants); err != nil {
		return results, fmt.Errorf("writing master playlist: %w", err)
	}
	o.logger.Info("master playlist written",
		slog.String("path", masterPath),
		slog.Int("variants", len(variants)),
		slog.Int("failed", len(failures)),
	)
	return results, nil
}

func (o *Orchestrator) runTier(ctx context.Context, input, outputDir string, tier RenditionSpec) RenditionResult {
	res := RenditionResult{
		Name:      tier.Name,
		Playlist:  path.Join(tier.Name, o.opts.PlaylistName),
		Width:     tier.Width,
		Height:    tier.Height,
		Bandwidth: tier.Bandwidth(),
	}

	dir := filepath.Join(outputDir, tier.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.Err = fmt.Errorf("creating %s: %w", dir, err)
		res.Error = res.Err.Error()
		return res
	}

	t := NewTranscoder(o.lib, tier, dir, o.opts, o.logger)
	err := t.Run(ctx, input)
	res.Stats = t.Stats()
	if err != nil {
		o.logger.Warn("rendition failed, continuing with remaining tiers",
			slog.String("rendition", tier.Name),
			slog.String("error", err.Error()),
		)
		res.Err = err
		res.Error = err.Error()
		return res
	}

	res.Succeeded = true
	res.Codecs = t.Codecs()
	if !t.HasVideo() {
		res.Width, res.Height = 0, 0
	}
	return res
}
