package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/xerrors"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// gormConnector 是 SQLite 与 MySQL 共用的实现，二者只在 Dialector 与连接池参数上不同
type gormConnector struct {
	name      string
	kind      string
	target    string
	dialector func() gorm.Dialector
	tune      func(db *gorm.DB) error

	logger   clog.Logger
	attempts metrics.Counter
	tracing  bool

	mu      sync.RWMutex
	db      *gorm.DB
	healthy atomic.Bool
}

// NewSQLite 创建 SQLite 连接器
func NewSQLite(cfg *SQLiteConfig, opts ...Option) (SQLiteConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "sqlite config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return newGormConnector(cfg.Name, "sqlite", cfg.Path, func() gorm.Dialector {
		return sqlite.Open(cfg.Path)
	}, nil, applyOptions(opts))
}

// NewMySQL 创建 MySQL 连接器
func NewMySQL(cfg *MySQLConfig, opts ...Option) (MySQLConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "mysql config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	target := cfg.Database
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Charset)
		target = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}

	tune := func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		return nil
	}

	return newGormConnector(cfg.Name, "mysql", target, func() gorm.Dialector {
		return mysql.Open(dsn)
	}, tune, applyOptions(opts))
}

func newGormConnector(name, kind, target string, dialector func() gorm.Dialector, tune func(*gorm.DB) error, opt *options) (*gormConnector, error) {
	attempts, err := opt.meter.Counter("bulwark_connector_connect_total", "connector connect attempts")
	if err != nil {
		return nil, xerrors.Wrap(err, "create connect counter")
	}
	return &gormConnector{
		name:      name,
		kind:      kind,
		target:    target,
		dialector: dialector,
		tune:      tune,
		logger:    opt.logger.With(clog.String("connector", kind), clog.String("name", name)),
		attempts:  attempts,
		tracing:   opt.tracing,
	}, nil
}

func (c *gormConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	c.logger.Info("attempting to connect to database", clog.String("target", c.target))

	db, err := c.open(ctx)
	if err != nil {
		c.attempts.Inc(ctx, metrics.L("connector", c.kind), metrics.L("outcome", "failure"))
		c.logger.Error("failed to connect to database", clog.Error(err), clog.String("target", c.target))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.kind, c.name, err)
	}

	c.db = db
	c.healthy.Store(true)
	c.attempts.Inc(ctx, metrics.L("connector", c.kind), metrics.L("outcome", "success"))
	c.logger.Info("successfully connected to database", clog.String("target", c.target))
	return nil
}

func (c *gormConnector) open(ctx context.Context) (*gorm.DB, error) {
	db, err := gorm.Open(c.dialector(), &gorm.Config{
		Logger: newGormLogger(c.logger),
	})
	if err != nil {
		return nil, err
	}
	if c.tracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, err
		}
	}
	if c.tune != nil {
		if err := c.tune(db); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (c *gormConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.db == nil {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	c.db = nil
	if err != nil {
		c.logger.Error("failed to close database connection", clog.Error(err))
		return err
	}
	c.logger.Info("database connection closed")
	return nil
}

func (c *gormConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrNotConnected, "%s connector[%s]", c.kind, c.name)
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("database health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "%s connector[%s]: %v", c.kind, c.name, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *gormConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *gormConnector) Name() string {
	return c.name
}

// GetClient 返回 GORM 实例，未连接时为 nil
func (c *gormConnector) GetClient() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
