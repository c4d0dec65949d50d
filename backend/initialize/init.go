package initialize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"autojs-hub/backend/app/controllers"
	"autojs-hub/backend/app/db"
	"autojs-hub/backend/app/dispatch"
	jwtutil "autojs-hub/backend/app/jwt"
	"autojs-hub/backend/app/metrics"
	"autojs-hub/backend/app/middleware"
	"autojs-hub/backend/app/repo"
	"autojs-hub/backend/app/services"
	"autojs-hub/backend/app/store"
	"autojs-hub/backend/config"
	"autojs-hub/backend/global"
	"autojs-hub/backend/router"
)

type App struct {
	Cfg       *config.Config
	Log       zerolog.Logger
	DB        *gorm.DB
	Store     store.Store
	Metrics   *metrics.Metrics
	Engine    *dispatch.Engine
	Scheduler *dispatch.Scheduler
	Events    *dispatch.Broadcaster
	Router    http.Handler

	Users   *services.UserService
	Devices *services.DeviceService
	Scripts *services.ScriptService
	Tasks   *services.TaskService
}

func Build(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return BuildWith(cfg)
}

// BuildWith wires the application from an already loaded config.
func BuildWith(cfg *config.Config) (*App, error) {
	global.Config = cfg
	log := InitLogger(cfg.Log, os.Stdout)

	// Database
	gdb, err := db.Connect(db.Config{
		Driver:   cfg.DB.Driver,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Pass,
		DBName:   cfg.DB.Name,
		Path:     cfg.DB.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	global.Mdb = gdb
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// TTL store
	st, err := openStore(cfg.Redis)
	if err != nil {
		closeDB(gdb)
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if rs, ok := st.(*store.RedisStore); ok {
		global.Rdb = rs.Client()
	}

	m := metrics.New()
	events := dispatch.NewBroadcaster()
	notifiers := dispatch.MultiNotifier{dispatch.LogNotifier{Log: log}}
	if global.Rdb != nil {
		notifiers = append(notifiers, dispatch.RedisNotifier{Store: st, Log: log})
	}
	notifiers = append(notifiers, events)

	// Repositories and engine
	userRepo := repo.NewUserRepository(gdb)
	deviceRepo := repo.NewDeviceRepository(gdb)
	scriptRepo := repo.NewScriptRepository(gdb)
	taskRepo := repo.NewTaskRepository(gdb)
	execRepo := repo.NewExecutionRepository(gdb)

	engine, err := dispatch.New(dispatchConfig(cfg.Dispatch), dispatch.Deps{
		Store:      st,
		Devices:    deviceRepo,
		Scripts:    scriptRepo,
		Tasks:      taskRepo,
		Executions: execRepo,
		Notifier:   notifiers,
		Metrics:    m,
		Logger:     log,
	})
	if err != nil {
		_ = st.Close()
		closeDB(gdb)
		return nil, err
	}

	// Services
	userSvc := services.NewUserService(userRepo)
	deviceSvc := services.NewDeviceService(deviceRepo, engine)
	scriptSvc := services.NewScriptService(scriptRepo)
	taskSvc := services.NewTaskService(taskRepo, execRepo, scriptRepo, engine, log)
	if cfg.Admin.Username != "" {
		if err := userSvc.EnsureAdmin(context.Background(), cfg.Admin.Username, cfg.Admin.Password); err != nil {
			log.Warn().Err(err).Msg("ensure admin user")
		}
	}

	// Controllers
	signer := &jwtutil.Signer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, ExpMin: cfg.JWT.ExpMin}
	h := router.NewRouter(router.Controllers{
		HTTP:    controllers.NewHTTPController(st, gdb, m),
		Auth:    controllers.NewAuthController(userSvc, signer),
		Admin:   controllers.NewAdminController(userSvc, deviceSvc, engine, log),
		Devices: controllers.NewDeviceController(engine, deviceSvc, log),
		Scripts: controllers.NewScriptController(scriptSvc),
		Tasks:   controllers.NewTaskController(taskSvc, log),
		Events:  controllers.NewEventsController(events, log),
	}, &middleware.Auth{Signer: signer})
	h = middleware.Logging(log, m)(h)

	return &App{
		Cfg:       cfg,
		Log:       log,
		DB:        gdb,
		Store:     st,
		Metrics:   m,
		Engine:    engine,
		Scheduler: dispatch.NewScheduler(engine),
		Events:    events,
		Router:    h,
		Users:     userSvc,
		Devices:   deviceSvc,
		Scripts:   scriptSvc,
		Tasks:     taskSvc,
	}, nil
}

// Close stops background workers and releases the store and database.
func (a *App) Close() error {
	a.Scheduler.Stop()
	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}

func openStore(cfg config.Redis) (store.Store, error) {
	switch {
	case cfg.Memory:
		return store.NewMemoryStore(), nil
	case cfg.URL != "":
		return store.NewRedisStoreFromURL(cfg.URL)
	default:
		return store.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
	}
}

func dispatchConfig(c config.Dispatch) dispatch.Config {
	return dispatch.Config{
		MaxInstructionsPerPoll: c.MaxInstructionsPerPoll,
		DefaultPollTimeout:     c.DefaultPollTimeout,
		MaxPollTimeout:         c.MaxPollTimeout,
		TimestampWindow:        c.TimestampWindow,
		PromoteInterval:        c.PromoteInterval,
		OfflineCheckInterval:   c.OfflineCheckInterval,
		ReapInterval:           c.ReapInterval,
		Workers:                c.Workers,
		GroupHistory:           c.GroupHistory,
		StalePending:           c.StalePending,
	}
}

func closeDB(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
