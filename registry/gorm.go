package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ohlcvsync/config"
	"ohlcvsync/logger"
	"ohlcvsync/models"
)

// Opener opens a gorm connection for a DSN.
type Opener func(dsn string) (*gorm.DB, error)

func dialect(driver string) (Opener, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "postgres", "":
		return func(dsn string) (*gorm.DB, error) { return gorm.Open(postgres.Open(dsn), gcfg) }, nil
	case "sqlite":
		return func(dsn string) (*gorm.DB, error) { return gorm.Open(sqlite.Open(dsn), gcfg) }, nil
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", driver)
	}
}

// ConnectWithRetry retries open until it succeeds or timeout elapses.
func ConnectWithRetry(ctx context.Context, dsn string, timeout time.Duration, open Opener) (*gorm.DB, error) {
	log := logger.GetLogger().WithComponent("registry")
	deadline := time.Now().Add(timeout)
	for {
		db, err := open(dsn)
		if err == nil {
			return db, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("registry connect failed after %s: %w", timeout, err)
		}
		log.WithError(err).Warn("registry connect failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

// GormRegistry reads tickers and stored dates from a relational database.
type GormRegistry struct {
	db  *gorm.DB
	cfg config.RegistryConfig
}

// Open connects using the configured driver and DSN.
func Open(ctx context.Context, cfg config.RegistryConfig) (*GormRegistry, error) {
	open, err := dialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := ConnectWithRetry(ctx, cfg.DSN, 30*time.Second, open)
	if err != nil {
		return nil, err
	}
	return NewGormRegistry(db, cfg), nil
}

func NewGormRegistry(db *gorm.DB, cfg config.RegistryConfig) *GormRegistry {
	return &GormRegistry{db: db, cfg: cfg}
}

// ListEntities returns the distinct non-empty tickers in ticker order.
func (r *GormRegistry) ListEntities(ctx context.Context) ([]string, error) {
	col := clause.Column{Name: r.cfg.TickerColumn}

	var raw []string
	err := r.db.WithContext(ctx).
		Table(r.cfg.TickerTable).
		Where(clause.Neq{Column: col, Value: ""}).
		Order(clause.OrderByColumn{Column: col}).
		Distinct().
		Pluck(r.cfg.TickerColumn, &raw).Error
	if err != nil {
		return nil, fmt.Errorf("list tickers from %s: %w", r.cfg.TickerTable, err)
	}

	tickers := normalizeTickers(raw)
	if len(tickers) == 0 {
		return nil, ErrNoTickers
	}
	return tickers, nil
}

// MaxStoredDate returns the latest trade date stored for entityID. Tickers
// are compared the way ListEntities normalizes them, so rows stored as
// "brk.b" count for BRK.B.
func (r *GormRegistry) MaxStoredDate(ctx context.Context, entityID string) (time.Time, bool, error) {
	date := clause.Column{Name: r.cfg.BarsDate}
	ticker := clause.Expr{
		SQL:  "UPPER(TRIM(?)) = ?",
		Vars: []interface{}{clause.Column{Name: r.cfg.BarsTicker}, strings.ToUpper(strings.TrimSpace(entityID))},
	}

	// ORDER BY ... LIMIT 1 keeps the column type, so drivers scan a time
	// rather than the text MAX() yields on sqlite.
	var dates []time.Time
	err := r.db.WithContext(ctx).
		Table(r.cfg.BarsTable).
		Where(ticker).
		Where(clause.Neq{Column: date, Value: nil}).
		Order(clause.OrderByColumn{Column: date, Desc: true}).
		Limit(1).
		Pluck(r.cfg.BarsDate, &dates).Error
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max stored date for %s: %w", entityID, err)
	}
	if len(dates) == 0 {
		return time.Time{}, false, nil
	}
	return models.DateOf(dates[0].UTC()), true, nil
}

// Close releases the underlying connection pool.
func (r *GormRegistry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
