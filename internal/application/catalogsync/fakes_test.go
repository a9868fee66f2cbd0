package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/google/uuid"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// memoryStore is a projection store keeping rows in a map
type memoryStore struct {
	mu      sync.Mutex
	rows    map[projection.Key]*projection.Projection
	failOn  map[projection.Key]error
	writes  int
	cleaned bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[projection.Key]*projection.Projection), failOn: make(map[projection.Key]error)}
}

func (s *memoryStore) Write(_ context.Context, p *projection.Projection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(p)
}

func (s *memoryStore) writeLocked(p *projection.Projection) (bool, error) {
	if err := s.failOn[p.Key]; err != nil {
		return false, err
	}
	s.writes++
	existing := s.rows[p.Key]
	if !projection.Supersedes(existing, p) {
		return false, nil
	}
	stored := *p
	if existing == nil {
		stored.Version = 1
		stored.GUID = uuid.New()
	} else {
		stored.Version = existing.Version + 1
		stored.GUID = existing.GUID
	}
	s.rows[p.Key] = &stored
	return true, nil
}

func (s *memoryStore) WriteAll(ctx context.Context, ps []*projection.Projection) ([]projection.WriteResult, error) {
	results := make([]projection.WriteResult, 0, len(ps))
	for _, p := range ps {
		changed, err := s.Write(ctx, p)
		results = append(results, projection.WriteResult{Key: p.Key, Changed: changed, Err: err})
	}
	return results, nil
}

func (s *memoryStore) Delete(_ context.Context, t projection.Type, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, row := range s.rows {
		if key.Type != t || key.Code != code || row.Deleted {
			continue
		}
		changed, err := s.writeLocked(row.Tombstoned(testNow))
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) DeleteInStore(_ context.Context, t projection.Type, code, store string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := projection.Key{Type: t, Store: store, Code: code}
	if err := s.failOn[key]; err != nil {
		return 0, err
	}
	row, ok := s.rows[key]
	if !ok || row.Deleted {
		return 0, nil
	}
	changed, err := s.writeLocked(row.Tombstoned(testNow))
	if err != nil || !changed {
		return 0, err
	}
	return 1, nil
}

func (s *memoryStore) Read(_ context.Context, key projection.Key) (*projection.Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memoryStore) ReadAll(context.Context, projection.Type, string, projection.Page) (*projection.PageResult, error) {
	return &projection.PageResult{}, nil
}

func (s *memoryStore) ReadByCodes(_ context.Context, t projection.Type, codes []string) ([]projection.Projection, error) {
	return s.matching(func(p *projection.Projection) bool {
		return p.Type == t && slices.Contains(codes, p.Code)
	}), nil
}

func (s *memoryStore) ReadByCodesInStore(_ context.Context, t projection.Type, store string, codes []string) ([]projection.Projection, error) {
	return s.matching(func(p *projection.Projection) bool {
		return p.Type == t && p.Store == store && slices.Contains(codes, p.Code)
	}), nil
}

// matching copies the rows accepted by keep in key order
func (s *memoryStore) matching(keep func(*projection.Projection) bool) []projection.Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []projection.Projection
	for _, key := range s.sortedKeys() {
		if row := s.rows[key]; keep(row) {
			out = append(out, *row)
		}
	}
	return out
}

func (s *memoryStore) sortedKeys() []projection.Key {
	out := make([]projection.Key, 0, len(s.rows))
	for key := range s.rows {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *memoryStore) ExpiredKeys(_ context.Context, now time.Time, limit int) ([]projection.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []projection.Key
	for _, key := range s.sortedKeys() {
		if len(out) == limit {
			break
		}
		if row := s.rows[key]; !row.Deleted && row.IsExpiredAt(now) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *memoryStore) Expire(_ context.Context, key projection.Key, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[key]; err != nil {
		return false, err
	}
	row, ok := s.rows[key]
	if !ok || row.Deleted || !row.IsExpiredAt(now) {
		return false, nil
	}
	return s.writeLocked(row.Tombstoned(now))
}

func (s *memoryStore) LiveStores(_ context.Context, t projection.Type, code string, stores []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []string
	for _, store := range stores {
		if row, ok := s.rows[projection.Key{Type: t, Store: store, Code: code}]; ok && !row.Deleted {
			live = append(live, store)
		}
	}
	return live, nil
}

func (s *memoryStore) NearestExpiry(context.Context, projection.Type, string, time.Time) (*time.Time, error) {
	return nil, nil
}

func (s *memoryStore) Clean(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[projection.Key]*projection.Projection)
	s.cleaned = true
	return nil
}

func (s *memoryStore) RemoveAll(context.Context, projection.Type) (int64, error) {
	return 0, nil
}

func (s *memoryStore) row(t projection.Type, store, code string) *projection.Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[projection.Key{Type: t, Store: store, Code: code}]
}

// published is one message seen by recordingBus
type published struct {
	EventType string
	Key       string
	Codes     []string
}

type recordingBus struct {
	mu       sync.Mutex
	messages []published
	fail     func(n int) error
	calls    int
}

func (b *recordingBus) Publish(_ context.Context, eventType, correlationKey string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail != nil {
		if err := b.fail(b.calls); err != nil {
			return err
		}
	}
	codes, _ := payload[PayloadKeyProducts].([]string)
	b.messages = append(b.messages, published{EventType: eventType, Key: correlationKey, Codes: codes})
	return nil
}

func (b *recordingBus) byKey(key string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, m := range b.messages {
		if m.Key == key {
			out = append(out, m)
		}
	}
	return out
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []*projection.UpdatedEvent
}

func (a *recordingAnnouncer) Publish(_ context.Context, events ...shared.DomainEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range events {
		if u, ok := e.(*projection.UpdatedEvent); ok {
			a.events = append(a.events, u)
		}
	}
	return nil
}

// fakeLookup serves catalog entities from maps
type fakeLookup struct {
	stores         []catalog.Store
	attributes     map[string]*catalog.Attribute
	brands         map[string]*catalog.Brand
	options        map[string]*catalog.SkuOption
	groups         map[string]*catalog.ModifierGroup
	products       map[string]*catalog.Product
	categories     map[string]*catalog.Category
	references     map[string][]string
	bundles        map[string][]string
	categoryErrors map[string]error
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		stores: []catalog.Store{
			{Code: "uk", Catalog: "master"},
			{Code: "au", Catalog: "master"},
			{Code: "ca", Catalog: "virtual"},
		},
		attributes:     make(map[string]*catalog.Attribute),
		brands:         make(map[string]*catalog.Brand),
		options:        make(map[string]*catalog.SkuOption),
		groups:         make(map[string]*catalog.ModifierGroup),
		products:       make(map[string]*catalog.Product),
		categories:     make(map[string]*catalog.Category),
		references:     make(map[string][]string),
		bundles:        make(map[string][]string),
		categoryErrors: make(map[string]error),
	}
}

func refKey(parts ...string) string { return strings.Join(parts, "/") }

func (l *fakeLookup) addCategory(c catalog.Category) {
	l.categories[refKey(c.Catalog, c.Code)] = &c
}

func (l *fakeLookup) Stores(context.Context) ([]catalog.Store, error) {
	return append([]catalog.Store(nil), l.stores...), nil
}

func (l *fakeLookup) StoresForCatalog(_ context.Context, c string) ([]catalog.Store, error) {
	return catalog.StoresForCatalogs(l.stores, []string{c}), nil
}

func find[T any](m map[string]*T, code string) (*T, error) {
	v, ok := m[code]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (l *fakeLookup) Attribute(_ context.Context, code string) (*catalog.Attribute, error) {
	return find(l.attributes, code)
}

func (l *fakeLookup) Brand(_ context.Context, code string) (*catalog.Brand, error) {
	return find(l.brands, code)
}

func (l *fakeLookup) SkuOption(_ context.Context, code string) (*catalog.SkuOption, error) {
	return find(l.options, code)
}

func (l *fakeLookup) ModifierGroup(_ context.Context, code string) (*catalog.ModifierGroup, error) {
	return find(l.groups, code)
}

func (l *fakeLookup) Product(_ context.Context, code string) (*catalog.Product, error) {
	return find(l.products, code)
}

func (l *fakeLookup) Category(_ context.Context, c, code string) (*catalog.Category, error) {
	if err := l.categoryErrors[refKey(c, code)]; err != nil {
		return nil, err
	}
	return find(l.categories, refKey(c, code))
}

func (l *fakeLookup) CategoriesByCodes(_ context.Context, c string, codes []string) ([]catalog.Category, error) {
	var out []catalog.Category
	for _, code := range codes {
		if cat, ok := l.categories[refKey(c, code)]; ok {
			out = append(out, *cat)
		}
	}
	return out, nil
}

func (l *fakeLookup) refs(parts ...string) ([]string, error) {
	return append([]string(nil), l.references[refKey(parts...)]...), nil
}

func (l *fakeLookup) ProductsByAttribute(_ context.Context, code string) ([]string, error) {
	return l.refs("attribute", code)
}

func (l *fakeLookup) ProductsBySkuAttribute(_ context.Context, code string) ([]string, error) {
	return l.refs("skuAttribute", code)
}

func (l *fakeLookup) CategoriesByAttribute(_ context.Context, code string) ([]string, error) {
	return l.refs("categoryAttribute", code)
}

func (l *fakeLookup) ProductsByBrand(_ context.Context, code string) ([]string, error) {
	return l.refs("brand", code)
}

func (l *fakeLookup) ProductsBySkuOption(_ context.Context, code string) ([]string, error) {
	return l.refs("option", code)
}

func (l *fakeLookup) ProductsByModifierGroup(_ context.Context, code string) ([]string, error) {
	return l.refs("modifierGroup", code)
}

func (l *fakeLookup) ProductsInCategory(_ context.Context, c, code string) ([]string, error) {
	return l.refs("category", c, code)
}

func (l *fakeLookup) BundlesContaining(_ context.Context, code string) ([]string, error) {
	return append([]string(nil), l.bundles[code]...), nil
}

func (l *fakeLookup) Children(_ context.Context, c, code string) ([]catalog.Category, error) {
	var out []catalog.Category
	for _, cat := range l.categories {
		if cat.Catalog == c && cat.ParentCode == code {
			out = append(out, *cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (l *fakeLookup) LinkedCopies(_ context.Context, master, code string) ([]catalog.Category, error) {
	var out []catalog.Category
	for _, cat := range l.categories {
		if cat.Linked && cat.MasterCatalog == master && cat.Code == code {
			out = append(out, *cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Catalog < out[j].Catalog })
	return out, nil
}

func keys[T any](m map[string]*T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (l *fakeLookup) Codes(_ context.Context, kind catalog.EntityKind) ([]string, error) {
	switch kind {
	case catalog.KindAttribute:
		return keys(l.attributes), nil
	case catalog.KindBrand:
		return keys(l.brands), nil
	case catalog.KindSkuOption:
		return keys(l.options), nil
	case catalog.KindModifierGroup:
		return keys(l.groups), nil
	case catalog.KindOffer:
		return keys(l.products), nil
	default:
		return nil, errors.New("no codes for " + string(kind))
	}
}

func (l *fakeLookup) Categories(context.Context) ([]catalog.Category, error) {
	out := make([]catalog.Category, 0, len(l.categories))
	for _, k := range keys(l.categories) {
		out = append(out, *l.categories[k])
	}
	return out, nil
}

var _ catalog.Lookup = (*fakeLookup)(nil)
var _ projection.Store = (*memoryStore)(nil)

// harness wires an engine over the fakes
type harness struct {
	store     *memoryStore
	lookup    *fakeLookup
	bus       *recordingBus
	announcer *recordingAnnouncer
	deps      ProcessorDeps
}

func newHarness(maxSize int) *harness {
	h := &harness{
		store:     newMemoryStore(),
		lookup:    newFakeLookup(),
		bus:       &recordingBus{},
		announcer: &recordingAnnouncer{},
	}
	publisher, err := NewBulkPublisher(h.bus, maxSize, nil, nil)
	if err != nil {
		panic(err)
	}
	h.deps = ProcessorDeps{
		Capabilities: RegistryFor(h.store),
		Lookup:       h.lookup,
		Publisher:    publisher,
		Announcer:    h.announcer,
		Clock:        fixedClock,
	}
	return h
}

func productCodes(n int) []string {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("P%05d", i)
	}
	return codes
}
