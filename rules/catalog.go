package rules

import (
	"context"
	"fmt"

	"github.com/liamcoop/salesaudit/internal/logger"
)

// Catalog serves compiled active rules to the engine and keeps the cache
// coherent with mutations made through it.
type Catalog struct {
	store RuleStore
	cache RulesCache
}

// NewCatalog creates a catalog with the default in-memory cache
func NewCatalog(store RuleStore) *Catalog {
	return NewCatalogWithCache(store, NewInMemoryRulesCache(DefaultCacheConfig()))
}

// NewCatalogWithCache creates a catalog with a caller-supplied cache
func NewCatalogWithCache(store RuleStore, cache RulesCache) *Catalog {
	return &Catalog{store: store, cache: cache}
}

// Active returns the compiled active rules. A stored rule that no longer
// compiles is logged and left out so that it cannot block the other rules.
func (c *Catalog) Active(ctx context.Context) ([]*Compiled, error) {
	if cached := c.cache.Get(); cached != nil {
		return cached, nil
	}

	defs, err := c.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	compiled := make([]*Compiled, 0, len(defs))
	for _, def := range defs {
		cr, err := Compile(def)
		if err != nil {
			logger.Warn("skipping invalid rule", "rule", def.Code, "error", err)
			continue
		}
		compiled = append(compiled, cr)
	}

	c.cache.Set(compiled)
	return compiled, nil
}

// Get returns a stored rule
func (c *Catalog) Get(ctx context.Context, code string) (*Definition, error) {
	return c.store.Get(ctx, code)
}

// List returns all stored rules, active or not
func (c *Catalog) List(ctx context.Context) ([]*Definition, error) {
	return c.store.List(ctx)
}

// Put validates a rule and stores it
func (c *Catalog) Put(ctx context.Context, def *Definition) error {
	if err := Validate(def); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}
	if err := c.store.Upsert(ctx, def); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

// SetActive toggles a rule on or off
func (c *Catalog) SetActive(ctx context.Context, code string, active bool) error {
	if err := c.store.SetActive(ctx, code, active); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

// Delete removes a rule
func (c *Catalog) Delete(ctx context.Context, code string) error {
	if err := c.store.Delete(ctx, code); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}
