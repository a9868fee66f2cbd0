package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultPageLimit is used when a page request carries no limit
	DefaultPageLimit = 100
	// MaxPageLimit caps the size of one page
	MaxPageLimit = 1000

	conflictRetryInterval = 10 * time.Millisecond
)

// GormProjectionRepository implements projection.Store on a relational database.
// Every mutation runs in a transaction that locks the row, and the update
// carries a version predicate so a writer that slipped past the lock is
// detected. A conflicting write is retried once.
type GormProjectionRepository struct {
	db                  *gorm.DB
	logger              *zap.Logger
	historyEnabled      bool
	modifiedSinceOffset time.Duration
	clock               func() time.Time
	newBackOff          func() backoff.BackOff
}

// ProjectionRepositoryOption configures a GormProjectionRepository
type ProjectionRepositoryOption func(*GormProjectionRepository)

// WithHistory enables or disables history rows on version transitions
func WithHistory(enabled bool) ProjectionRepositoryOption {
	return func(r *GormProjectionRepository) {
		r.historyEnabled = enabled
	}
}

// WithModifiedSinceOffset sets the default look-back applied to ModifiedSince filters
func WithModifiedSinceOffset(offset time.Duration) ProjectionRepositoryOption {
	return func(r *GormProjectionRepository) {
		r.modifiedSinceOffset = offset
	}
}

// WithRepositoryClock overrides the clock stamping tombstones
func WithRepositoryClock(clock func() time.Time) ProjectionRepositoryOption {
	return func(r *GormProjectionRepository) {
		r.clock = clock
	}
}

// WithRepositoryLogger sets the logger used for conflict diagnostics
func WithRepositoryLogger(logger *zap.Logger) ProjectionRepositoryOption {
	return func(r *GormProjectionRepository) {
		r.logger = logger
	}
}

// NewGormProjectionRepository creates a projection store backed by db
func NewGormProjectionRepository(db *gorm.DB, opts ...ProjectionRepositoryOption) *GormProjectionRepository {
	r := &GormProjectionRepository{
		db:             db,
		logger:         zap.NewNop(),
		historyEnabled: true,
		clock:          time.Now,
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(conflictRetryInterval)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// mutation decides, under the row lock, what should replace existing.
// existing is nil when the key has no row; a nil result leaves the row alone.
type mutation func(existing *projection.Projection) *projection.Projection

// Write stores p if it supersedes the current row for its key
func (r *GormProjectionRepository) Write(ctx context.Context, p *projection.Projection) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "projection.write",
		telemetry.SpanAttrProjectionType, string(p.Type),
		telemetry.SpanAttrStore, p.Store,
		telemetry.SpanAttrEntityCode, p.Code,
	)
	defer span.End()

	changed, err := r.apply(ctx, p.Key, func(*projection.Projection) *projection.Projection {
		return p
	})
	telemetry.SetAttributes(span, telemetry.SpanAttrChanged, changed)
	telemetry.RecordError(span, err)
	return changed, err
}

// WriteAll writes each projection through the conditional path. A failed
// write does not stop the batch; its error is reported in its result.
func (r *GormProjectionRepository) WriteAll(ctx context.Context, ps []*projection.Projection) ([]projection.WriteResult, error) {
	results := make([]projection.WriteResult, 0, len(ps))
	for _, p := range ps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		changed, err := r.Write(ctx, p)
		results = append(results, projection.WriteResult{Key: p.Key, Changed: changed, Err: err})
	}
	return results, nil
}

// Delete tombstones every live row of type t with the given code
func (r *GormProjectionRepository) Delete(ctx context.Context, t projection.Type, code string) (int, error) {
	var stores []string
	err := r.db.WithContext(ctx).Model(&models.ProjectionModel{}).
		Where("type = ? AND code = ? AND deleted = ?", string(t), code, false).
		Order("store").
		Pluck("store", &stores).Error
	if err != nil {
		return 0, fmt.Errorf("find live %s %s: %w", t, code, err)
	}

	tombstoned := 0
	for _, store := range stores {
		n, err := r.DeleteInStore(ctx, t, code, store)
		if err != nil {
			return tombstoned, err
		}
		tombstoned += n
	}
	return tombstoned, nil
}

// DeleteInStore tombstones the live row of type t for one store
func (r *GormProjectionRepository) DeleteInStore(ctx context.Context, t projection.Type, code, store string) (int, error) {
	key := projection.Key{Type: t, Store: store, Code: code}
	now := r.clock()
	changed, err := r.apply(ctx, key, func(existing *projection.Projection) *projection.Projection {
		if existing == nil || existing.Deleted {
			return nil
		}
		return existing.Tombstoned(now)
	})
	if err != nil || !changed {
		return 0, err
	}
	return 1, nil
}

// Expire tombstones key if it is still live and expired at now
func (r *GormProjectionRepository) Expire(ctx context.Context, key projection.Key, now time.Time) (bool, error) {
	return r.apply(ctx, key, func(existing *projection.Projection) *projection.Projection {
		if existing == nil || existing.Deleted || !existing.IsExpiredAt(now) {
			return nil
		}
		return existing.Tombstoned(now)
	})
}

// ExpiredKeys returns up to limit live rows whose disable instant is at or before now
func (r *GormProjectionRepository) ExpiredKeys(ctx context.Context, now time.Time, limit int) ([]projection.Key, error) {
	var rows []models.ProjectionModel
	q := r.db.WithContext(ctx).
		Select("type", "store", "code").
		Where("deleted = ? AND disable_date_time IS NOT NULL AND disable_date_time <= ?", false, now.UTC()).
		Order("disable_date_time, type, store, code")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find expired projections: %w", err)
	}

	keys := make([]projection.Key, len(rows))
	for i, row := range rows {
		keys[i] = projection.Key{Type: projection.Type(row.Type), Store: row.Store, Code: row.Code}
	}
	return keys, nil
}

// apply runs m inside a locked transaction, retrying once on a concurrency conflict
func (r *GormProjectionRepository) apply(ctx context.Context, key projection.Key, m mutation) (bool, error) {
	var changed bool
	op := func() error {
		c, err := r.applyOnce(ctx, key, m)
		if err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				r.logger.Debug("projection write conflict", zap.Stringer("key", key))
				return err
			}
			return backoff.Permanent(err)
		}
		changed = c
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			return false, shared.ErrOverflowAttempts.WithMessage("overflow attempts to save projection " + key.String())
		}
		return false, err
	}
	return changed, nil
}

func (r *GormProjectionRepository) applyOnce(ctx context.Context, key projection.Key, m mutation) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ProjectionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("type = ? AND store = ? AND code = ?", string(key.Type), key.Store, key.Code).
			Take(&row).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			incoming := m(nil)
			if incoming == nil {
				return nil
			}
			var created models.ProjectionModel
			created.FromDomain(incoming)
			created.Version = 1
			created.GUID = uuid.New()
			if err := tx.Create(&created).Error; err != nil {
				if isUniqueViolation(err) {
					return shared.ErrConcurrencyConflict
				}
				return fmt.Errorf("insert projection %s: %w", key, err)
			}
			changed = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("load projection %s: %w", key, err)
		}

		existing := row.ToDomain()
		incoming := m(existing)
		if incoming == nil || !projection.Supersedes(existing, incoming) {
			return nil
		}

		if r.historyEnabled {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(models.HistoryOf(&row)).Error; err != nil {
				return fmt.Errorf("append history %s: %w", key, err)
			}
		}

		var next models.ProjectionModel
		next.FromDomain(incoming)
		res := tx.Model(&models.ProjectionModel{}).
			Where("type = ? AND store = ? AND code = ? AND version = ?", string(key.Type), key.Store, key.Code, row.Version).
			Updates(map[string]any{
				"content":              next.Content,
				"content_hash":         next.ContentHash,
				"version":              row.Version + 1,
				"projection_date_time": next.ProjectionDateTime,
				"disable_date_time":    next.DisableDateTime,
				"deleted":              next.Deleted,
			})
		if res.Error != nil {
			return fmt.Errorf("update projection %s: %w", key, res.Error)
		}
		if res.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}
		changed = true
		return nil
	})
	return changed, err
}

// Read returns the row for key, tombstones included
func (r *GormProjectionRepository) Read(ctx context.Context, key projection.Key) (*projection.Projection, error) {
	var row models.ProjectionModel
	err := r.db.WithContext(ctx).
		Where("type = ? AND store = ? AND code = ?", string(key.Type), key.Store, key.Code).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound.WithMessage("projection " + key.String() + " not found")
	}
	if err != nil {
		return nil, fmt.Errorf("read projection %s: %w", key, err)
	}
	return row.ToDomain(), nil
}

// ReadAll returns one page of projections of a type in a store, ordered by code
func (r *GormProjectionRepository) ReadAll(ctx context.Context, t projection.Type, store string, page projection.Page) (*projection.PageResult, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	q := r.db.WithContext(ctx).Where("type = ? AND store = ?", string(t), store)
	if page.StartAfter != "" {
		q = q.Where("code > ?", page.StartAfter)
	}
	if page.ModifiedSince != nil {
		offset := page.ModifiedSinceOffset
		if offset == 0 {
			offset = r.modifiedSinceOffset
		}
		q = q.Where("projection_date_time >= ?", page.ModifiedSince.UTC().Add(-offset))
	}

	var rows []models.ProjectionModel
	if err := q.Order("code").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read %s projections of store %s: %w", t, store, err)
	}

	result := &projection.PageResult{Items: make([]projection.Projection, 0, len(rows))}
	if len(rows) > limit {
		result.HasMore = true
		rows = rows[:limit]
	}
	for i := range rows {
		result.Items = append(result.Items, *rows[i].ToDomain())
	}
	if result.HasMore {
		result.NextCursor = rows[len(rows)-1].Code
	}
	return result, nil
}

// ReadByCodes returns every row of type t with one of codes, in every store
func (r *GormProjectionRepository) ReadByCodes(ctx context.Context, t projection.Type, codes []string) ([]projection.Projection, error) {
	if len(codes) == 0 {
		return []projection.Projection{}, nil
	}
	return r.find(ctx, r.db.Where("type = ? AND code IN ?", string(t), codes))
}

// ReadByCodesInStore returns the rows of type t in store with one of codes
func (r *GormProjectionRepository) ReadByCodesInStore(ctx context.Context, t projection.Type, store string, codes []string) ([]projection.Projection, error) {
	if len(codes) == 0 {
		return []projection.Projection{}, nil
	}
	return r.find(ctx, r.db.Where("type = ? AND store = ? AND code IN ?", string(t), store, codes))
}

func (r *GormProjectionRepository) find(ctx context.Context, q *gorm.DB) ([]projection.Projection, error) {
	var rows []models.ProjectionModel
	if err := q.WithContext(ctx).Order("store, code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read projections: %w", err)
	}
	out := make([]projection.Projection, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// LiveStores returns the subset of stores holding a live row for code
func (r *GormProjectionRepository) LiveStores(ctx context.Context, t projection.Type, code string, stores []string) ([]string, error) {
	if len(stores) == 0 {
		return nil, nil
	}
	var live []string
	err := r.db.WithContext(ctx).Model(&models.ProjectionModel{}).
		Where("type = ? AND code = ? AND deleted = ? AND store IN ?", string(t), code, false, stores).
		Order("store").
		Pluck("store", &live).Error
	if err != nil {
		return nil, fmt.Errorf("find live stores of %s %s: %w", t, code, err)
	}
	return live, nil
}

// NearestExpiry returns the earliest future disable instant of live rows
// of type t in store, or nil when none will expire
func (r *GormProjectionRepository) NearestExpiry(ctx context.Context, t projection.Type, store string, now time.Time) (*time.Time, error) {
	var row models.ProjectionModel
	err := r.db.WithContext(ctx).
		Select("disable_date_time").
		Where("type = ? AND store = ? AND deleted = ? AND disable_date_time > ?", string(t), store, false, now.UTC()).
		Order("disable_date_time").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find nearest expiry of %s in %s: %w", t, store, err)
	}
	if row.DisableDateTime == nil {
		return nil, nil
	}
	at := row.DisableDateTime.UTC()
	return &at, nil
}

// History returns the superseded versions of key, oldest first
func (r *GormProjectionRepository) History(ctx context.Context, key projection.Key) ([]projection.History, error) {
	var rows []models.ProjectionHistoryModel
	err := r.db.WithContext(ctx).
		Where("type = ? AND store = ? AND code = ?", string(key.Type), key.Store, key.Code).
		Order("version").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", key, err)
	}
	out := make([]projection.History, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Clean removes every projection and history row
func (r *GormProjectionRepository) Clean(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ProjectionHistoryModel{}).Error; err != nil {
			return fmt.Errorf("clean projection history: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ProjectionModel{}).Error; err != nil {
			return fmt.Errorf("clean projections: %w", err)
		}
		return nil
	})
}

// RemoveAll removes every projection and history row of one type and
// returns the number of projections removed
func (r *GormProjectionRepository) RemoveAll(ctx context.Context, t projection.Type) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("type = ?", string(t)).Delete(&models.ProjectionHistoryModel{}).Error; err != nil {
			return fmt.Errorf("remove %s history: %w", t, err)
		}
		res := tx.Where("type = ?", string(t)).Delete(&models.ProjectionModel{})
		if res.Error != nil {
			return fmt.Errorf("remove %s projections: %w", t, res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	return removed, err
}

// isUniqueViolation recognises duplicate-key errors from postgres and sqlite,
// translated or not
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

var _ projection.Store = (*GormProjectionRepository)(nil)
