package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/ahmed-matloob-prog/skill-lab-web-sub005/apps/api/echo"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
	logsvc "github.com/ahmed-matloob-prog/skill-lab-web-sub005/services/logger"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/cache"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/remote"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/users"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := newLogger("API : ", conf)

	// set up local cache
	store, closeStore, err := setUpCache(conf, newLogger("CACHE : ", conf))
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up local cache: %v", err), err)
	}
	defer closeStore()

	// set up remote store; unavailability is not fatal, the app runs cache-only
	rmt, closeRemote := setUpRemote(conf, newLogger("REMOTE : ", conf))
	defer closeRemote()

	// set up services
	usrSvc := user.NewService(users.NewRepository(store, rmt, logger, conf.Remote.Timeout), logger)
	trackSvc := track.NewService(store, rmt, logger, conf)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	if err = trackSvc.Start(context.Background()); err != nil {
		logger.Fatal(fmt.Sprintf("starting tracking service: %v", err), err)
	}
	defer trackSvc.Stop()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			TrackSvc:   trackSvc,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func newLogger(prefix string, conf *core.Config) core.Logger {
	std := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if conf.RollbarToken == "" {
		return logsvc.NewConsoleLogger(std)
	}
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func setUpCache(conf *core.Config, logger core.Logger) (cache.Store, func(), error) {
	if conf.Cache.Dir == "" {
		return cache.NewMemory(conf.Cache.MaxBytes, logger), func() {}, nil
	}
	store, err := cache.NewBadger(conf.Cache.Dir, conf.Cache.MaxBytes, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// setUpRemote returns a nil Remote when no backend is configured or the
// configured one cannot be reached; the services treat nil as cache-only.
func setUpRemote(conf *core.Config, logger core.Logger) (track.Remote, func()) {
	noop := func() {}

	switch conf.Remote.Backend {
	case "redis":
		client, err := remote.NewRedis(conf, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("redis unavailable, running cache-only: %v", err))
			return nil, noop
		}
		return client, closer(client, logger)
	case "postgres":
		client, err := remote.NewPostgres(conf, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("postgres unavailable, running cache-only: %v", err))
			return nil, noop
		}
		return client, closer(client, logger)
	default:
		return nil, noop
	}
}

func closer(c io.Closer, logger core.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing remote client: %v", err), err)
		}
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
