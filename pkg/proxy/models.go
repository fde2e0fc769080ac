package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/quietgrid/hlgateway/pkg/highlight"
)

type modelLister interface {
	ListModels(ctx context.Context, accessToken string) ([]highlight.Model, error)
}

// ModelDirectory maps OpenAI-style model names onto backend model IDs. The
// catalog is fetched once per process and then served from memory; Refresh
// replaces it wholesale.
type ModelDirectory struct {
	upstream modelLister

	mu     sync.RWMutex
	byName map[string]highlight.Model
	all    []highlight.Model
}

func NewModelDirectory(upstream modelLister) *ModelDirectory {
	return &ModelDirectory{upstream: upstream}
}

func (d *ModelDirectory) ensure(ctx context.Context, accessToken string) error {
	d.mu.RLock()
	loaded := d.byName != nil
	d.mu.RUnlock()
	if loaded {
		return nil
	}
	return d.Refresh(ctx, accessToken)
}

// Refresh refetches the catalog and swaps it in atomically. Readers always see
// either the old catalog or the new one, never a mix.
func (d *ModelDirectory) Refresh(ctx context.Context, accessToken string) error {
	models, err := d.upstream.ListModels(ctx, accessToken)
	if err != nil {
		// A broken catalog fetch is a backend failure, not a caller mistake.
		return &UpstreamError{Status: http.StatusBadGateway, Body: fmt.Sprintf("fetch model catalog: %v", err)}
	}
	byName := make(map[string]highlight.Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	d.mu.Lock()
	d.byName = byName
	d.all = models
	d.mu.Unlock()
	log.Info("model catalog loaded", "models", len(models))
	return nil
}

// Resolve maps a model name to its catalog entry, fetching the catalog on
// first use.
func (d *ModelDirectory) Resolve(ctx context.Context, accessToken, name string) (highlight.Model, error) {
	if err := d.ensure(ctx, accessToken); err != nil {
		return highlight.Model{}, err
	}
	d.mu.RLock()
	m, ok := d.byName[name]
	d.mu.RUnlock()
	if !ok {
		return highlight.Model{}, errBadRequest("model %q not found", name)
	}
	return m, nil
}

// List returns the full catalog in upstream order.
func (d *ModelDirectory) List(ctx context.Context, accessToken string) ([]highlight.Model, error) {
	if err := d.ensure(ctx, accessToken); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]highlight.Model, len(d.all))
	copy(out, d.all)
	return out, nil
}
