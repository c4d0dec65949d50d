package global

import (
	"autojs-hub/backend/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Process-wide handles set once by initialize.Build. Rdb is nil when the
// TTL store runs in memory.
var (
	Config *config.Config
	Logger zerolog.Logger
	Mdb    *gorm.DB
	Rdb    *redis.Client
)
