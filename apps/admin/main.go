package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
	logsvc "github.com/ahmed-matloob-prog/skill-lab-web-sub005/services/logger"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/cache"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/remote"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/users"
)

func main() {
	defer os.Exit(0)

	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewConsoleLogger(std)

	conf := core.NewConfig()

	// set up local cache
	store, closeStore, err := setUpCache(conf, logger)
	errAndDie(std, err)
	defer closeStore()

	// set up remote store; the CLI operates on whatever is reachable
	rmt, closeRemote := setUpRemote(conf, logger)
	defer closeRemote()

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	usrSvc := user.NewService(users.NewRepository(store, rmt, logger, conf.Remote.Timeout), logger)
	trackSvc := track.NewService(store, rmt, logger, conf)
	errAndDie(std, trackSvc.Start(context.Background()))
	defer trackSvc.Stop()

	// start CLI
	cli := commandLine{
		usrSvc:   usrSvc,
		trackSvc: trackSvc,
		validate: validate,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			std.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(std *log.Logger, err error) {
	if err != nil {
		std.Fatal(err)
	}
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

func setUpRemote(conf *core.Config, logger core.Logger) (track.Remote, func()) {
	noop := func() {}

	switch conf.Remote.Backend {
	case "redis":
		client, err := remote.NewRedis(conf, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("redis unavailable, running cache-only: %v", err))
			return nil, noop
		}
		return client, func() { _ = client.Close() }
	case "postgres":
		client, err := remote.NewPostgres(conf, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("postgres unavailable, running cache-only: %v", err))
			return nil, noop
		}
		return client, func() { _ = client.Close() }
	default:
		return nil, noop
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
