package main

import (
	"context"
	"fmt"
	"time"

	"chatwave/global"
	"chatwave/logger"
	"chatwave/module/presence"
	presencesvc "chatwave/module/presence/service"
	unreadsvc "chatwave/module/unread/service"
	"chatwave/service/bus"
	"chatwave/service/live"
	"chatwave/service/media"
	"chatwave/service/metrics"
	"chatwave/service/notify"
	"chatwave/service/storage"
	"chatwave/service/storage/memstore"
	"chatwave/service/storage/pg"
	redisstore "chatwave/service/storage/redis"
	"chatwave/tools/ids"
	"chatwave/tools/security"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// directory is what both the unread service and live sessions read.
type directory interface {
	live.Directory
	unreadsvc.Directory
}

// Runtime owns every client of one process. OpenStorage/Start open them,
// Close releases them in reverse order.
type Runtime struct {
	conf    *global.Config
	metrics *metrics.Metrics
	jwt     security.Options

	pool *pgxpool.Pool
	rdb  *redis.Client
	mem  *memstore.Store

	registry *storage.SessionRegistry

	cache   presencesvc.Cache
	durable presencesvc.Durable
	store   unreadsvc.Store
	dir     directory
	dialer  notify.Dialer

	Bus        bus.Bus
	Presence   *presencesvc.Service
	Reconciler *presencesvc.Reconciler
	Unread     *unreadsvc.Service
	Cleaner    *media.Cleaner
	Supervisor *notify.Supervisor
	Live       *live.Manager
}

func NewRuntime(conf *global.Config) *Runtime {
	return &Runtime{
		conf:    conf,
		metrics: metrics.New(),
		jwt:     security.Options{Secret: []byte(conf.JWT.Secret), Alg: conf.JWT.Alg},
	}
}

// OpenStorage connects the durable store and the presence cache. It is all
// sync-presence needs.
func (rt *Runtime) OpenStorage(ctx context.Context) error {
	ids.SetNodeID(rt.conf.NodeID)

	if rt.conf.Storage.Driver == "memory" {
		rt.mem = memstore.New()
		rt.cache = memstore.NewPresenceCache(rt.conf.Presence.TTL, time.Now)
		rt.durable, rt.store, rt.dir, rt.dialer = rt.mem, rt.mem, rt.mem, rt.mem
		logger.Warn("storage driver memory: nothing survives a restart")
	} else {
		pool, err := pg.NewPool(ctx, rt.conf.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		rt.pool = pool
		repo := pg.NewRepo(pool, rt.conf.Postgres.Schema)
		rt.durable, rt.store, rt.dir = repo, repo, repo
		rt.dialer = pg.ListenDialer{ConnString: rt.conf.Postgres.URL}

		if err := rt.openRedis(ctx); err != nil {
			return err
		}
		rt.cache = storage.NewPresenceCache(rt.rdb, rt.conf.Presence.TTL, rt.conf.Presence.ScanCount)
	}
	rt.Reconciler = presencesvc.NewReconciler(rt.cache, rt.durable, rt.metrics)
	return nil
}

func (rt *Runtime) openRedis(ctx context.Context) error {
	if rt.rdb != nil {
		return nil
	}
	rdb, err := redisstore.NewClient(ctx, rt.conf.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	rt.rdb = rdb
	return nil
}

// Start opens storage, the bus and builds every service. Background loops
// are started by Serve.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.OpenStorage(ctx); err != nil {
		return err
	}
	if rt.conf.Bus.Driver == "redis" {
		if err := rt.openRedis(ctx); err != nil {
			return err
		}
	}
	b, err := bus.New(rt.conf, rt.rdb, rt.metrics)
	if err != nil {
		return err
	}
	rt.Bus = b

	rt.Cleaner = media.NewCleaner(rt.conf.Media.Root, rt.metrics)
	if err := rt.Cleaner.Init(); err != nil {
		return err
	}

	rt.Presence = presencesvc.NewService(rt.cache, rt.durable, rt.Bus)
	rt.Unread = unreadsvc.NewService(rt.store, rt.dir)

	lc := rt.conf.Listener
	rt.Supervisor = notify.NewSupervisor(rt.dialer, notify.NewTable(rt.Bus, rt.Cleaner), notify.ListenerConf{
		MaxRetries:  lc.MaxRetries,
		BaseBackoff: lc.BaseBackoff,
		MaxBackoff:  lc.MaxBackoff,
	}, nil, rt.metrics)

	sc := rt.conf.Session
	deps := live.Deps{
		Bus:       rt.Bus,
		Directory: rt.dir,
		Presence:  rt.Presence,
		Unread:    rt.Unread,
		Auth:      rt.authenticate,
		Metrics:   rt.metrics,
	}
	if rt.rdb != nil {
		ttl := 2 * sc.PongWait
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		rt.registry = storage.NewSessionRegistry(rt.rdb, rt.conf.NodeID, ttl)
		deps.Registry = rt.registry
	}
	rt.Live = live.NewManager(live.ManagerConf{
		PingPeriod:  sc.PingPeriod,
		PongWait:    sc.PongWait,
		WriteWait:   sc.WriteWait,
		AuthTimeout: sc.AuthTimeout,
		MaxRetries:  sc.MaxRetries,
	}, deps)
	logger.Info("runtime started",
		zap.String("storage", rt.conf.Storage.Driver),
		zap.String("bus", rt.conf.Bus.Driver))
	return nil
}

// onlineCounter is cluster wide with Redis, node local otherwise.
func (rt *Runtime) onlineCounter() presence.OnlineCounter {
	if rt.registry != nil {
		return rt.registry
	}
	return rt.Live
}

func (rt *Runtime) authenticate(token string) (int64, error) {
	return security.Authenticate(rt.jwt, token)
}

// Close is safe after a partial Start.
func (rt *Runtime) Close() {
	if rt.Live != nil {
		rt.Live.Close()
	}
	if rt.Bus != nil {
		if err := rt.Bus.Close(); err != nil {
			logger.Warn("close bus", zap.Error(err))
		}
	}
	if rt.rdb != nil {
		if err := rt.rdb.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	logger.Sync()
}
