package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/backoffice"
	"igrejaportal.org/internal/config"
	"igrejaportal.org/internal/gate"
	"igrejaportal.org/internal/httpapi"
	"igrejaportal.org/internal/identity"
	"igrejaportal.org/internal/kv"
	"igrejaportal.org/internal/migrate"
	"igrejaportal.org/internal/obs"
	"igrejaportal.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().WithError(err).Fatal("load config")
	}
	log := obs.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("backoffice api stopped")
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := migrate.NewManager(store.DB(), nil, nil).Up(mctx)
		cancel()
		if err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	mode, err := auth.ParseBootstrapMode(cfg.Roles.BootstrapMode)
	if err != nil {
		return err
	}
	var (
		redisClient *kv.Client
		locker      auth.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err = kv.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = redisClient.Locker(cfg.Redis.LockTTL, cfg.Redis.LockTTL)
	}

	idp, err := identity.NewClient(ctx, identity.Config{
		IssuerURL:    cfg.Identity.IssuerURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		AdminURL:     cfg.Identity.AdminURL,
		ServiceKey:   cfg.Identity.ServiceKey,
		Timeout:      cfg.Identity.RequestTimeout,
	})
	if err != nil {
		return err
	}
	codec, err := auth.NewSessionCodec(cfg.Identity.SessionSecret, auth.WithSessionTTL(cfg.Identity.SessionTTL))
	if err != nil {
		return err
	}
	resolver := auth.NewResolver(log,
		auth.VerifiedUser{Provider: idp},
		auth.CachedSession{Codec: codec},
		auth.RefreshedSession{Provider: idp, Codec: codec},
	)

	dirOpts := []auth.DirectoryOption{auth.WithBootstrapMode(mode), auth.WithDirectoryLogger(log)}
	if locker != nil {
		dirOpts = append(dirOpts, auth.WithLocker(locker))
	}
	directory, err := auth.NewDirectory(store.Roles(), dirOpts...)
	if err != nil {
		return err
	}

	auditLog, err := audit.NewLog(store.Audit(),
		audit.WithLogger(log),
		audit.WithActorResolver(auth.ActorLookup{Resolver: resolver, Directory: directory}),
		audit.WithUserDirectory(idp),
		audit.WithEnrichConcurrency(cfg.Identity.EnrichConcurrency),
	)
	if err != nil {
		return err
	}
	g, err := gate.New(resolver, directory, auditLog, gate.WithDB(store.DB()), gate.WithLogger(log))
	if err != nil {
		return err
	}
	runner, err := backoffice.NewRunner(g, auditLog)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	if redisClient != nil {
		probe.Redis = redisClient
	}
	api, err := httpapi.New(httpapi.Deps{
		Gate:   g,
		Runner: runner,
		Audit:  auditLog,
		Roles:  directory,
		Ready:  probe,
		Logger: log,
	}, httpapi.Options{
		Version:       version,
		RetentionDays: cfg.Audit.RetentionDays,
		SweepOnView:   cfg.Audit.SweepOnView,
		Cookies: httpapi.CookieConfig{
			Access:     cfg.Identity.AccessCookie,
			Refresh:    cfg.Identity.RefreshCookie,
			Session:    cfg.Identity.SessionCookie,
			Secure:     cfg.Identity.SecureCookies,
			SessionTTL: cfg.Identity.SessionTTL,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	grpcSrv := httpapi.NewGRPCServer(probe, log)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			log.WithField("addr", cfg.Server.GRPCAddr).Info("grpc health listening")
			return grpcSrv.Serve(lis)
		})
		eg.Go(func() error {
			grpcSrv.Watch(egCtx, 10*time.Second)
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
