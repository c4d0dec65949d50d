package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"autojs-hub/backend/app/models"
)

type Config struct {
	Driver   string // mysql (default) or sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// Path is the sqlite file; ":memory:" opens a private in-memory database.
	Path   string
	Silent bool
}

func Connect(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{}
	if cfg.Silent {
		gcfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = cfg.DBName + ".db"
		}
		memory := path == ":memory:"
		if memory {
			path = "file::memory:"
		}
		gdb, err := gorm.Open(sqlite.Open(path), gcfg)
		if err != nil {
			return nil, err
		}
		if memory {
			// every pooled connection would otherwise see its own empty database
			sqlDB, err := gdb.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(1)
		}
		return gdb, nil
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return gorm.Open(mysql.Open(dsn), gcfg)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

// Migrate creates or updates every table the hub owns.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Device{},
		&models.Script{},
		&models.Task{},
		&models.ScriptExecutionRecord{},
	)
}
