package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/infrastructure/event"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/erp/catalogsync/internal/interfaces/http/handler"
	"github.com/erp/catalogsync/internal/interfaces/http/router"
	"github.com/erp/catalogsync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type syncFixture struct {
	db            *TestDB
	repo          *persistence.GormProjectionRepository
	lookup        *persistence.GormCatalogLookup
	notifications *event.MemoryBus
	bus           *event.InMemoryEventBus
	announced     *testutil.RecordingHandler
	engine        *catalogsync.Engine
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}

	tdb := NewTestDB(t)
	seedCatalog(t, tdb.DB)

	log := zap.NewNop()
	repo := persistence.NewGormProjectionRepository(tdb.DB, persistence.WithHistory(true))
	lookup := persistence.NewGormCatalogLookup(tdb.DB)
	notifications := event.NewMemoryBus()
	publisher, err := catalogsync.NewBulkPublisher(notifications, catalogsync.DefaultBulkChangeMaxEventSize, log, nil)
	require.NoError(t, err)

	bus := event.NewInMemoryEventBus(log)
	announced := testutil.NewRecordingHandler(projection.EventTypeProjectionsUpdated)
	bus.Subscribe(announced)

	engine, err := catalogsync.NewEngine(catalogsync.Dependencies{
		ProcessorDeps: catalogsync.ProcessorDeps{
			Capabilities: catalogsync.RegistryFor(repo),
			Lookup:       lookup,
			Publisher:    publisher,
			Announcer:    bus,
			Logger:       log,
		},
	})
	require.NoError(t, err)
	bus.Subscribe(engine)

	return &syncFixture{
		db:            tdb,
		repo:          repo,
		lookup:        lookup,
		notifications: notifications,
		bus:           bus,
		announced:     announced,
		engine:        engine,
	}
}

func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []any{
		&models.CatalogModel{Code: "master", Master: true},
		&models.StoreModel{Code: "eu", Catalog: "master"},
		&models.StoreModel{Code: "us", Catalog: "master"},
		&models.CategoryModel{Catalog: "master", Code: "root", StartDate: start, Names: catalog.LocalizedNames{"en": "All"}},
		&models.CategoryModel{Catalog: "master", Code: "shoes", ParentCode: "root", StartDate: start},
		&models.BrandModel{Code: "acme", Names: catalog.LocalizedNames{"en": "Acme"}},
		&models.ProductModel{
			Code: "P00001", Catalog: "master", BrandCode: "acme",
			StartDate: start, Availability: string(catalog.AlwaysAvailable),
			Skus: []catalog.Sku{{Code: "P00001-42",
				Shipping: catalog.ShippingDetails{Shippable: true, Weight: decimal.RequireFromString("1.25")}}},
		},
		&models.ProductModel{Code: "P00002", Catalog: "master", BrandCode: "acme", StartDate: start, Availability: string(catalog.AlwaysAvailable)},
		&models.ProductCategoryModel{ProductCode: "P00001", Catalog: "master", CategoryCode: "shoes"},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}
}

func brandKey(store string) projection.Key {
	return projection.Key{Type: projection.TypeBrand, Store: store, Code: "acme"}
}

func TestCatalogSync_BrandUpdateFansOutAndIsIdempotent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	require.NoError(t, f.bus.Publish(ctx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, "acme")))

	for _, store := range []string{"eu", "us"} {
		p, err := f.repo.Read(ctx, brandKey(store))
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Version)
		assert.False(t, p.Deleted)
		assert.NotEmpty(t, p.ContentHash)
	}

	sent := f.notifications.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, catalogsync.EventTypeBrandBulkUpdate, sent[0].EventType)
	assert.Equal(t, "acme", sent[0].CorrelationKey)
	assert.Equal(t, []string{"P00001", "P00002"}, sent[0].Payload[catalogsync.PayloadKeyProducts])
	assert.Len(t, testutil.HandledOf[*projection.UpdatedEvent](f.announced), 2)

	// Same domain state: nothing is written, announced or published
	require.NoError(t, f.bus.Publish(ctx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, "acme")))
	p, err := f.repo.Read(ctx, brandKey("eu"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	assert.Len(t, f.notifications.Sent(), 1)
	assert.Len(t, testutil.HandledOf[*projection.UpdatedEvent](f.announced), 2)

	history, err := f.repo.History(ctx, brandKey("eu"))
	require.NoError(t, err)
	assert.Empty(t, history)

	// A real change bumps the version and keeps one history row
	var brand models.BrandModel
	require.NoError(t, f.db.DB.First(&brand, "code = ?", "acme").Error)
	brand.Names = catalog.LocalizedNames{"en": "Acme Corp"}
	require.NoError(t, f.db.DB.Save(&brand).Error)
	require.NoError(t, f.bus.Publish(ctx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, "acme")))

	p, err = f.repo.Read(ctx, brandKey("eu"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
	history, err = f.repo.History(ctx, brandKey("eu"))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].Version)
	assert.Len(t, f.notifications.Sent(), 2)
}

func TestCatalogSync_OfferDeleteInOneStore(t *testing.T) {
	f := newSyncFixture(t)
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	require.NoError(t, f.bus.Publish(ctx, catalog.NewChangeEvent(catalog.KindOffer, catalog.ActionCreated, "P00001")))

	live, err := f.repo.ReadByCodes(ctx, projection.TypeOffer, []string{"P00001"})
	require.NoError(t, err)
	require.Len(t, live, 2)

	deleted := catalog.NewChangeEvent(catalog.KindOffer, catalog.ActionDeleted, "P00001")
	deleted.Stores = []string{"us"}
	require.NoError(t, f.bus.Publish(ctx, deleted))

	us, err := f.repo.Read(ctx, projection.Key{Type: projection.TypeOffer, Store: "us", Code: "P00001"})
	require.NoError(t, err)
	assert.True(t, us.Deleted)
	assert.JSONEq(t, `{}`, string(us.Content))

	eu, err := f.repo.Read(ctx, projection.Key{Type: projection.TypeOffer, Store: "eu", Code: "P00001"})
	require.NoError(t, err)
	assert.False(t, eu.Deleted)

	stores, err := f.repo.LiveStores(ctx, projection.TypeOffer, "P00001", []string{"eu", "us"})
	require.NoError(t, err)
	assert.Equal(t, []string{"eu"}, stores)
}

func TestCatalogSync_ExpirySweepTombstones(t *testing.T) {
	f := newSyncFixture(t)
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	now := time.Now().UTC().Truncate(time.Second)
	disable := now.Add(125 * time.Second)
	key := projection.Key{Type: projection.TypeOffer, Store: "eu", Code: "P00009"}
	_, err := f.repo.Write(ctx, projection.New(key, []byte(`{"code":"P00009"}`), &disable, now))
	require.NoError(t, err)

	next, err := f.repo.NearestExpiry(ctx, projection.TypeOffer, "eu", now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(disable))

	clock := now.Add(60 * time.Second)
	sweeper, err := scheduler.NewExpirySweeper(scheduler.DefaultSweeperConfig(), f.repo, zap.NewNop(),
		scheduler.WithSweeperClock(func() time.Time { return clock }),
		scheduler.WithAnnouncer(f.bus),
	)
	require.NoError(t, err)

	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Expired)

	clock = now.Add(185 * time.Second)
	result, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)

	p, err := f.repo.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, p.Deleted)

	updates := testutil.HandledOf[*projection.UpdatedEvent](f.announced)
	require.NotEmpty(t, updates)
	assert.Equal(t, []string{"P00009"}, updates[len(updates)-1].Codes)
}

func TestCatalogSync_RebuildClean(t *testing.T) {
	f := newSyncFixture(t)
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	stale := projection.Key{Type: projection.TypeBrand, Store: "eu", Code: "gone"}
	_, err := f.repo.Write(ctx, projection.New(stale, []byte(`{"code":"gone"}`), nil, time.Now().UTC()))
	require.NoError(t, err)

	runner, err := catalogsync.NewRebuildRunner(f.engine, f.lookup, f.repo, zap.NewNop())
	require.NoError(t, err)
	report, err := runner.Run(ctx, catalogsync.RebuildClean)
	require.NoError(t, err)
	assert.Equal(t, catalogsync.RebuildClean, report.Mode)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, report.Entities[catalog.KindOffer])

	_, err = f.repo.Read(ctx, stale)
	assert.Error(t, err)
	_, err = f.repo.Read(ctx, brandKey("us"))
	assert.NoError(t, err)
}

func TestCatalogSync_HTTP(t *testing.T) {
	f := newSyncFixture(t)

	engine := router.NewEngine(router.EngineConfig{Mode: gin.TestMode}, router.Handlers{
		Projections: handler.NewProjectionHandler(f.repo, f.repo),
		Changes:     handler.NewChangeHandler(f.bus),
		Rebuild:     handler.NewRebuildHandler(nil),
		System:      handler.NewSystemHandler("catalog-sync", "test", map[string]handler.HealthCheck{"database": func(ctx context.Context) error { return f.db.SqlDB.PingContext(ctx) }}),
	}, zap.NewNop())

	w := testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/changes", dto.ChangeRequest{
		Kind: "brand", Action: "updated", Code: "acme",
	}, map[string]string{handler.ActorHeader: "integration"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/projections/brand/eu/acme", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p, _ := testutil.DecodeResponse[projection.Projection](t, w)
	assert.Equal(t, "acme", p.Code)
	assert.Equal(t, int64(1), p.Version)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/api/v1/projections/brand/lookup", dto.LookupRequest{Codes: []string{"acme"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items, _ := testutil.DecodeResponse[[]projection.Projection](t, w)
	assert.Len(t, items, 2)

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/projections/brand/eu/unknown", nil, nil)
	testutil.AssertErrorResponse(t, w, http.StatusNotFound, dto.ErrCodeNotFound)

	w = testutil.PerformRequest(t, engine, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
