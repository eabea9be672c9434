package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/config"
	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger adapts slog to be used as a GORM logger.
type gormLogger struct {
	slogger *slog.Logger
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}
func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.slogger.InfoContext(ctx, msg, "gorm_data", data)
}
func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.slogger.WarnContext(ctx, msg, "gorm_data", data)
}
func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.slogger.ErrorContext(ctx, msg, "gorm_data", data)
}
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("latency", elapsed.String()),
		slog.String("sql", sql),
		slog.Int64("rows_affected", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		attrs = append(attrs, slog.Any("error", err))
		l.slogger.LogAttrs(ctx, slog.LevelError, "GORM Trace", attrs...)
	} else {
		l.slogger.LogAttrs(ctx, slog.LevelDebug, "GORM Trace", attrs...)
	}
}

// Database holds the DB connection, all repository instances, and the UnitOfWork.
type Database struct {
	DB               *gorm.DB
	UoW              UnitOfWorkInterface
	InstallationRepo interfaces.InstallationRepositoryInterface
	StatusRepo       interfaces.ServiceStatusRepositoryInterface
	CommandRepo      interfaces.DeviceCommandRepositoryInterface
	ActionRepo       interfaces.ControlActionRepositoryInterface
	OpLogRepo        interfaces.OperationalLogRepositoryInterface
	PaymentRepo      interfaces.PaymentRepositoryInterface
}

// NewDatabase creates a new database connection and initializes repositories.
func NewDatabase(cfg *config.Config, appLogger *slog.Logger) (*Database, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	dbLogger := appLogger.With("component", "database")
	dbLogger.Info("Connecting to database...", "host", cfg.DBHost, "port", cfg.DBPort, "user", cfg.DBUser)

	newGormLogger := &gormLogger{slogger: dbLogger}
	gormConfig := &gorm.Config{
		Logger: newGormLogger.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	dbLogger.Info("Database connected successfully")

	dbLogger.Info("Starting database migration...")
	err = db.AutoMigrate(
		&models.SolarInstallation{},
		&models.ServiceStatus{},
		&models.DeviceCommand{},
		&models.ControlAction{},
		&models.OperationalLog{},
		&models.Payment{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	dbLogger.Info("Database migration completed successfully")

	return &Database{
		DB:               db,
		UoW:              NewUnitOfWork(db),
		InstallationRepo: repositories.NewInstallationRepository(db),
		StatusRepo:       repositories.NewServiceStatusRepository(db),
		CommandRepo:      repositories.NewDeviceCommandRepository(db),
		ActionRepo:       repositories.NewControlActionRepository(db),
		OpLogRepo:        repositories.NewOperationalLogRepository(db),
		PaymentRepo:      repositories.NewPaymentRepository(db),
	}, nil
}
