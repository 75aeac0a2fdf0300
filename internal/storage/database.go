package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository"
	"github.com/Gopher0727/TimeChat/internal/repository/memory"
)

// Repositories bundles the data access layer chosen by storage.driver.
type Repositories struct {
	Users    repository.IUserRepository
	Chats    repository.IChatRepository
	Messages repository.IMessageRepository
	Invites  repository.IInviteRepository

	// DB is nil for the memory driver.
	DB *gorm.DB
}

// Close releases the underlying connection pool, if any.
func (r *Repositories) Close() error {
	if r.DB == nil {
		return nil
	}
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open connects to the configured database, migrates the schema and builds
// the repositories.
func Open(cfg *config.StorageConfig, log *zap.Logger) (*Repositories, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &Repositories{
			Users:    store.Users(),
			Chats:    store.Chats(),
			Messages: store.Messages(),
			Invites:  store.Invites(),
		}, nil
	}

	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("database connected", zap.String("driver", cfg.Driver))

	return &Repositories{
		Users:    repository.NewUserRepository(db),
		Chats:    repository.NewChatRepository(db),
		Messages: repository.NewMessageRepository(db),
		Invites:  repository.NewInviteRepository(db),
		DB:       db,
	}, nil
}

// OpenDB opens a gorm connection for the postgres or sqlite driver and runs
// AutoMigrate.
func OpenDB(cfg *config.StorageConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		p := cfg.Postgres
		dialector = postgres.Open(BuildDSN(p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode))
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(SQLiteDSN(cfg.SQLitePath))
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	logLevel := logger.Silent
	if cfg.LogQueries {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.ChatRoom{},
		&model.ChatMember{},
		&model.Message{},
		&model.MessageRead{},
		&model.InviteCode{},
		&model.InviteRedemption{},
	)
	if err != nil {
		return fmt.Errorf("migrate models: %w", err)
	}
	return nil
}

// BuildDSN 构建PostgreSQL DSN
func BuildDSN(host string, port int, user, password, dbname, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", host, port, user, password, dbname, sslmode)
}

// SQLiteDSN enables WAL and foreign keys on the given file path.
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL&_foreign_keys=on"
}
