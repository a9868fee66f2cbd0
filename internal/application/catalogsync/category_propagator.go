package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	projector "github.com/erp/catalogsync/internal/application/projection"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPropagationParallelism bounds concurrent descendant rewrites
const DefaultPropagationParallelism = 8

// CategoryPropagator keeps category projections in step with the category
// trees and tells downstream consumers which products to refresh
type CategoryPropagator struct {
	writer      projection.Writer
	reader      projection.Reader
	lookup      catalog.Lookup
	builder     *projector.Builder
	publisher   *BulkPublisher
	scopes      *scopeWriter
	clock       Clock
	logger      *zap.Logger
	parallelism int
}

// NewCategoryPropagator creates the category processor. parallelism <= 0
// uses DefaultPropagationParallelism.
func NewCategoryPropagator(deps ProcessorDeps, parallelism int) (*CategoryPropagator, error) {
	const name = "CategoryPropagator"
	if err := deps.validate(name); err != nil {
		return nil, err
	}
	w, err := requireWriter(deps.Capabilities, name, projection.TypeCategory)
	if err != nil {
		return nil, err
	}
	r, err := requireReader(deps.Capabilities, name, projection.TypeCategory)
	if err != nil {
		return nil, err
	}
	if parallelism <= 0 {
		parallelism = DefaultPropagationParallelism
	}
	deps = deps.withDefaults()
	return &CategoryPropagator{
		writer:      w,
		reader:      r,
		lookup:      deps.Lookup,
		builder:     deps.Builder,
		publisher:   deps.Publisher,
		scopes:      &scopeWriter{announcer: deps.Announcer, logger: deps.Logger, metrics: deps.Metrics},
		clock:       deps.Clock,
		logger:      deps.Logger.With(zap.String("processor", name)),
		parallelism: parallelism,
	}, nil
}

// Kind returns the entity kind handled by the propagator
func (p *CategoryPropagator) Kind() catalog.EntityKind {
	return catalog.KindCategory
}

func (p *CategoryPropagator) span(ctx context.Context, method string, event *catalog.ChangeEvent) (context.Context, func(error) error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "CategoryPropagator", method,
		telemetry.SpanAttrEntityCode, event.Code,
		telemetry.SpanAttrCatalog, event.Catalog,
	)
	return ctx, func(err error) error {
		telemetry.RecordError(span, err)
		span.End()
		return err
	}
}

func (p *CategoryPropagator) loadCategory(ctx context.Context, catalogCode, code string) (*catalog.Category, error) {
	c, err := p.lookup.Category(ctx, catalogCode, code)
	if err != nil {
		return nil, fmt.Errorf("load category %s/%s: %w", catalogCode, code, err)
	}
	return c, nil
}

// buildNode builds the projections of one node of a walked tree
func (p *CategoryPropagator) buildNode(ctx context.Context, node categoryNode, stores []catalog.Store, now time.Time) ([]projector.Built, error) {
	c := node.category
	scope := projector.CategoryScope{
		Stores:   stores,
		Children: node.children,
		Path:     node.path,
		Excluded: node.excluded,
	}
	if c.Linked {
		master, err := p.lookup.Category(ctx, c.MasterCatalog, c.Code)
		switch {
		case errors.Is(err, shared.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load master of category %s/%s: %w", c.Catalog, c.Code, err)
		default:
			scope.Master = master
		}
	}
	return p.builder.BuildCategory(&c, scope, now), nil
}

func (p *CategoryPropagator) writeNode(ctx context.Context, node categoryNode, stores []catalog.Store, now time.Time) []ScopeResult {
	built, err := p.buildNode(ctx, node, stores, now)
	if err != nil {
		return []ScopeResult{{Key: projection.Key{Type: projection.TypeCategory, Code: node.category.Code}, Err: err}}
	}
	return p.scopes.write(ctx, p.writer, built)
}

// writeSingle rewrites one category with its own tree context
func (p *CategoryPropagator) writeSingle(ctx context.Context, c *catalog.Category, stores []catalog.Store, now time.Time) []ScopeResult {
	path, excluded, err := ancestry(ctx, p.lookup, c, now)
	if err != nil {
		return []ScopeResult{{Key: projection.Key{Type: projection.TypeCategory, Code: c.Code}, Err: err}}
	}
	children, err := p.lookup.Children(ctx, c.Catalog, c.Code)
	if err != nil {
		return []ScopeResult{{Key: projection.Key{Type: projection.TypeCategory, Code: c.Code}, Err: fmt.Errorf("load children of category %s: %w", c.Code, err)}}
	}
	return p.writeNode(ctx, categoryNode{category: *c, parent: -1, path: path, children: visibleCodes(children, now), excluded: excluded}, stores, now)
}

// writeParent rewrites the parent of c so its children content follows the
// visibility of c. A parent that no longer exists is skipped.
func (p *CategoryPropagator) writeParent(ctx context.Context, c *catalog.Category, stores []catalog.Store, now time.Time) []ScopeResult {
	if c.ParentCode == "" {
		return nil
	}
	parent, err := p.lookup.Category(ctx, c.Catalog, c.ParentCode)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return []ScopeResult{{Key: projection.Key{Type: projection.TypeCategory, Code: c.ParentCode}, Err: fmt.Errorf("load parent of category %s: %w", c.Code, err)}}
	}
	return p.writeSingle(ctx, parent, stores, now)
}

// liveStores lists the stores holding a live projection of code
func (p *CategoryPropagator) liveStores(ctx context.Context, code string, stores []catalog.Store) ([]string, error) {
	live, err := p.reader.LiveStores(ctx, projection.TypeCategory, code, catalog.StoreCodes(stores))
	if err != nil {
		return nil, fmt.Errorf("check live stores of category %s: %w", code, err)
	}
	return catalog.SortedUnique(live), nil
}

func (p *CategoryPropagator) publishProducts(ctx context.Context, c *catalog.Category) error {
	masterCatalog, code := c.MasterKey()
	products, err := p.lookup.ProductsInCategory(ctx, masterCatalog, code)
	if err != nil {
		return fmt.Errorf("load products of category %s/%s: %w", masterCatalog, code, err)
	}
	return p.publisher.Publish(ctx, EventTypeCategoryBulkUpdate, c.Code, products)
}

// OnCreated handles a new category like an update
func (p *CategoryPropagator) OnCreated(ctx context.Context, event *catalog.ChangeEvent) error {
	return p.OnUpdated(ctx, event)
}

// OnUpdated rewrites the category and its linked copies. When anything
// changed, its products are published, then every descendant still live in
// a store touched by the update is rewritten and its products published.
// When the category appears or disappears in some store, every descendant
// is rewritten and so is the parent's children list.
func (p *CategoryPropagator) OnUpdated(ctx context.Context, event *catalog.ChangeEvent) (err error) {
	ctx, end := p.span(ctx, "OnUpdated", event)
	defer func() { err = end(err) }()

	now := runNow(ctx, p.clock)
	root, err := p.loadCategory(ctx, event.Catalog, event.Code)
	if errors.Is(err, shared.ErrNotFound) {
		logger.WithLogger(ctx, p.logger).Warn("category no longer exists, skipping", zap.String("code", event.Code))
		return nil
	}
	if err != nil {
		return err
	}
	stores, err := p.lookup.Stores(ctx)
	if err != nil {
		return fmt.Errorf("load stores: %w", err)
	}
	tree, err := walkSubtree(ctx, p.lookup, root, now)
	if err != nil {
		return err
	}
	liveBefore, err := p.liveStores(ctx, root.Code, stores)
	if err != nil {
		return err
	}

	results := p.writeNode(ctx, *tree.root(), stores, now)
	if !root.Linked {
		copies, err := p.lookup.LinkedCopies(ctx, root.Catalog, root.Code)
		if err != nil {
			results = append(results, ScopeResult{Key: projection.Key{Type: projection.TypeCategory, Code: root.Code}, Err: fmt.Errorf("load linked copies of %s: %w", root.Code, err)})
		}
		for i := range copies {
			results = append(results, p.writeSingle(ctx, &copies[i], stores, now)...)
		}
	}

	out := summarize(results)
	if !out.changed {
		logger.WithLogger(ctx, p.logger).Debug("category projections unchanged, nothing to propagate",
			zap.String("code", root.Code),
			zap.String("catalog", root.Catalog),
		)
		return firstError(out.err, p.scopes.announce(ctx, results, now))
	}

	liveAfter, err := p.liveStores(ctx, root.Code, stores)
	if err != nil {
		return firstError(out.err, p.scopes.announce(ctx, results, now), err)
	}
	visibilityChanged := !slices.Equal(liveBefore, liveAfter)
	var parentErr error
	if visibilityChanged {
		parent := p.writeParent(ctx, root, stores, now)
		parentErr = summarize(parent).err
		results = append(results, parent...)
	}
	announceErr := p.scopes.announce(ctx, results, now)

	publishErr := p.publishProducts(ctx, root)
	propagateErr := p.propagate(ctx, tree, stores, out.stores, visibilityChanged, now)
	return firstError(out.err, parentErr, announceErr, publishErr, propagateErr)
}

// propagate rewrites, in parallel, the descendants holding a live projection
// in one of touched and publishes the products of each. With rewriteAll every
// descendant is rewritten and those that were live or changed are published.
func (p *CategoryPropagator) propagate(ctx context.Context, tree *categoryTree, stores []catalog.Store, touched []string, rewriteAll bool, now time.Time) error {
	descendants := tree.descendants()
	if len(descendants) == 0 || len(touched) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		results []ScopeResult
	)
	g := new(errgroup.Group)
	g.SetLimit(p.parallelism)
	for _, node := range descendants {
		g.Go(func() error {
			live, err := p.reader.LiveStores(ctx, projection.TypeCategory, node.category.Code, touched)
			if err != nil {
				return fmt.Errorf("check live stores of category %s: %w", node.category.Code, err)
			}
			if len(live) == 0 && !rewriteAll {
				return nil
			}
			written := p.writeNode(ctx, node, stores, now)
			mu.Lock()
			results = append(results, written...)
			mu.Unlock()

			out := summarize(written)
			if len(live) == 0 && !out.changed {
				return out.err
			}
			c := node.category
			return firstError(out.err, p.publishProducts(ctx, &c))
		})
	}
	err := g.Wait()

	logger.WithLogger(ctx, p.logger).Info("category change propagated to descendants",
		zap.String("code", tree.root().category.Code),
		zap.Int("descendants", len(descendants)),
		zap.Strings("touched_stores", touched),
		zap.Bool("rewrite_all", rewriteAll),
	)
	return firstError(err, p.scopes.announce(ctx, results, now))
}

// OnLinked writes the linked category and publishes the products of its master
func (p *CategoryPropagator) OnLinked(ctx context.Context, event *catalog.ChangeEvent) (err error) {
	ctx, end := p.span(ctx, "OnLinked", event)
	defer func() { err = end(err) }()

	now := runNow(ctx, p.clock)
	linked, err := p.loadCategory(ctx, event.Catalog, event.Code)
	if err != nil {
		return err
	}
	stores, err := p.lookup.Stores(ctx)
	if err != nil {
		return fmt.Errorf("load stores: %w", err)
	}
	results := p.writeSingle(ctx, linked, stores, now)
	out := summarize(results)
	return firstError(out.err, p.scopes.announce(ctx, results, now), p.publishProducts(ctx, linked))
}

// OnIncluded rewrites the linked category and its whole subtree
func (p *CategoryPropagator) OnIncluded(ctx context.Context, event *catalog.ChangeEvent) (err error) {
	ctx, end := p.span(ctx, "OnIncluded", event)
	defer func() { err = end(err) }()
	return p.toggle(ctx, event, true)
}

// OnExcluded tombstones the linked category and its whole subtree in every
// store of the target catalog
func (p *CategoryPropagator) OnExcluded(ctx context.Context, event *catalog.ChangeEvent) (err error) {
	ctx, end := p.span(ctx, "OnExcluded", event)
	defer func() { err = end(err) }()
	return p.toggle(ctx, event, false)
}

func (p *CategoryPropagator) toggle(ctx context.Context, event *catalog.ChangeEvent, include bool) error {
	now := runNow(ctx, p.clock)
	root, err := p.loadCategory(ctx, event.Catalog, event.Code)
	if err != nil {
		return err
	}
	tree, err := walkSubtree(ctx, p.lookup, root, now)
	if err != nil {
		return err
	}

	var (
		results []ScopeResult
		stores  []catalog.Store
	)
	if include {
		stores, err = p.lookup.Stores(ctx)
		if err != nil {
			return fmt.Errorf("load stores: %w", err)
		}
		for _, node := range tree.nodes {
			results = append(results, p.writeNode(ctx, node, stores, now)...)
		}
	} else {
		stores, err = p.lookup.StoresForCatalog(ctx, event.Catalog)
		if err != nil {
			return fmt.Errorf("load stores of catalog %s: %w", event.Catalog, err)
		}
		codes := catalog.StoreCodes(stores)
		if len(codes) == 0 {
			return nil
		}
		for _, node := range tree.nodes {
			results = append(results, p.scopes.tombstone(ctx, p.writer, projection.TypeCategory, node.category.Code, codes)...)
		}
	}
	out := summarize(results)

	parent := p.writeParent(ctx, root, stores, now)
	parentErr := summarize(parent).err
	announceErr := p.scopes.announce(ctx, append(results, parent...), now)
	if !out.changed {
		return firstError(out.err, parentErr, announceErr)
	}

	var products []string
	for _, node := range tree.nodes {
		masterCatalog, code := node.category.MasterKey()
		codes, err := p.lookup.ProductsInCategory(ctx, masterCatalog, code)
		if err != nil {
			return firstError(out.err, parentErr, announceErr, fmt.Errorf("load products of category %s/%s: %w", masterCatalog, code, err))
		}
		products = append(products, codes...)
	}

	logger.WithLogger(ctx, p.logger).Info("category subtree toggled",
		zap.String("code", root.Code),
		zap.String("catalog", root.Catalog),
		zap.Bool("included", include),
		zap.Int("categories", len(tree.nodes)),
	)
	return firstError(out.err, parentErr, announceErr, p.publisher.Publish(ctx, EventTypeCategoryBulkUpdate, root.Code, products))
}

// OnUnlinked tombstones the linked category in the target catalog's stores
// and publishes the products of its master when the master still exists
func (p *CategoryPropagator) OnUnlinked(ctx context.Context, event *catalog.ChangeEvent) (err error) {
	ctx, end := p.span(ctx, "OnUnlinked", event)
	defer func() { err = end(err) }()

	now := runNow(ctx, p.clock)
	stores, err := p.lookup.StoresForCatalog(ctx, event.Catalog)
	if err != nil {
		return fmt.Errorf("load stores of catalog %s: %w", event.Catalog, err)
	}
	codes := catalog.StoreCodes(stores)
	if len(codes) == 0 {
		return nil
	}
	results := p.scopes.tombstone(ctx, p.writer, projection.TypeCategory, event.Code, codes)
	announceErr := p.scopes.announce(ctx, results, now)
	out := summarize(results)
	if !out.changed || event.MasterCatalog == "" {
		return firstError(out.err, announceErr)
	}

	master, err := p.lookup.Category(ctx, event.MasterCatalog, event.Code)
	if errors.Is(err, shared.ErrNotFound) {
		return firstError(out.err, announceErr)
	}
	if err != nil {
		return firstError(out.err, announceErr, fmt.Errorf("load master category %s/%s: %w", event.MasterCatalog, event.Code, err))
	}
	return firstError(out.err, announceErr, p.publishProducts(ctx, master))
}

// OnDeleted tombstones the category and drops it from the children of its
// former parent
func (p *CategoryPropagator) OnDeleted(ctx context.Context, event *catalog.ChangeEvent) (err error) {
	ctx, end := p.span(ctx, "OnDeleted", event)
	defer func() { err = end(err) }()

	now := runNow(ctx, p.clock)
	storeCodes := event.Stores
	if len(storeCodes) == 0 && event.Catalog != "" {
		stores, err := p.lookup.StoresForCatalog(ctx, event.Catalog)
		if err != nil {
			return fmt.Errorf("load stores of catalog %s: %w", event.Catalog, err)
		}
		storeCodes = catalog.StoreCodes(stores)
		if len(storeCodes) == 0 {
			return nil
		}
	}

	results := p.scopes.tombstone(ctx, p.writer, projection.TypeCategory, event.Code, storeCodes)
	if event.ParentCode != "" && len(storeCodes) > 0 {
		results = append(results, p.detachFromParent(ctx, event.ParentCode, event.Code, storeCodes, now)...)
	}
	out := summarize(results)
	logger.WithLogger(ctx, p.logger).Info("category projections tombstoned",
		zap.String("code", event.Code),
		zap.String("catalog", event.Catalog),
		zap.Bool("changed", out.changed),
	)
	return firstError(out.err, p.scopes.announce(ctx, results, now))
}

// detachFromParent removes child from the children of the parent's live
// projections in stores
func (p *CategoryPropagator) detachFromParent(ctx context.Context, parent, child string, stores []string, now time.Time) []ScopeResult {
	var results []ScopeResult
	for _, store := range stores {
		key := projection.Key{Type: projection.TypeCategory, Store: store, Code: parent}
		existing, err := p.reader.Read(ctx, key)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			results = append(results, ScopeResult{Key: key, Err: fmt.Errorf("read %s: %w", key, err)})
			continue
		}
		if existing.Deleted {
			continue
		}

		var content projector.CategoryContent
		if err := json.Unmarshal(existing.Content, &content); err != nil {
			results = append(results, ScopeResult{Key: key, Err: fmt.Errorf("decode %s: %w", key, err)})
			continue
		}
		idx := slices.Index(content.Children, child)
		if idx < 0 {
			continue
		}
		content.Children = slices.Delete(content.Children, idx, idx+1)
		body, err := json.Marshal(content)
		if err != nil {
			results = append(results, ScopeResult{Key: key, Err: fmt.Errorf("encode %s: %w", key, err)})
			continue
		}
		results = append(results, p.scopes.write(ctx, p.writer, []projector.Built{{
			Key:        key,
			Projection: projection.New(key, body, existing.DisableDateTime, now),
		}})...)
	}
	return results
}

// Rebuild writes the projections of one category without notifying anyone
func (p *CategoryPropagator) Rebuild(ctx context.Context, c *catalog.Category) error {
	stores, err := p.lookup.Stores(ctx)
	if err != nil {
		return fmt.Errorf("load stores: %w", err)
	}
	now := runNow(ctx, p.clock)
	results := p.writeSingle(ctx, c, stores, now)
	return firstError(summarize(results).err, p.scopes.announce(ctx, results, now))
}
