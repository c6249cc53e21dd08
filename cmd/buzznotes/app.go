package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/account"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/config"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/i18n"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/logging"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/remote"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/syncer"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/workspace"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is one CLI invocation's wiring: local store, account, workspace and the auto-sync loop.
type app struct {
	config     config.ClientConfig
	logger     *zap.Logger
	translator *i18n.Translator
	store      *localstore.Store
	client     *remote.Client
	accounts   *account.Manager
	state      *workspace.State

	autoSynced chan struct{}
	stopAuto   context.CancelFunc
	autoDone   <-chan struct{}
}

// noticePrinter writes translated notices to the terminal.
type noticePrinter struct {
	out        io.Writer
	translator *i18n.Translator
}

func (p noticePrinter) Notify(notice workspace.Notice) {
	message := p.translator.T(notice.Key)
	if notice.Level == workspace.LevelError && notice.Detail != "" {
		message = fmt.Sprintf("%s: %s", message, notice.Detail)
	}
	fmt.Fprintln(p.out, message)
}

// trackedSync signals each finished automatic sync so short-lived commands can wait for it.
type trackedSync struct {
	state    *workspace.State
	finished chan<- struct{}
}

func (t trackedSync) Sync(ctx context.Context, manual bool) (syncer.Result, error) {
	defer func() {
		select {
		case t.finished <- struct{}{}:
		default:
		}
	}()
	return t.state.Sync(ctx, manual)
}

func openApp(ctx context.Context, configViper *viper.Viper, out io.Writer) (*app, error) {
	cfg, err := config.LoadClient(configViper)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	translator, err := i18n.NewTranslator(cfg.Language)
	if err != nil {
		return nil, err
	}

	store, err := localstore.Open(cfg.LocalPath, logger)
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(remote.Config{BaseURL: cfg.APIURL, Logger: logger})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	accounts, err := account.NewManager(account.ManagerConfig{
		Backend: client.Auth(),
		Store:   store,
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client.SetTokenSource(accounts)

	transient := audio.NewTransientStore()
	runner, err := syncer.New(syncer.Config{
		Remote:    client.Remote(),
		Uploader:  client,
		Transient: transient,
		Timeout:   cfg.SyncTimeout,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	state, err := workspace.New(ctx, workspace.Config{
		Store:     store,
		Syncer:    runner,
		Deleter:   client,
		Session:   accounts,
		Notifier:  noticePrinter{out: out, translator: translator},
		Transient: transient,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if _, _, err := accounts.Restore(ctx); err != nil {
		logger.Warn("session restore failed", zap.Error(err))
	}

	autoCtx, stopAuto := context.WithCancel(ctx)
	autoSynced := make(chan struct{}, 1)
	autoDone := account.AutoSync(autoCtx, accounts, trackedSync{state: state, finished: autoSynced}, logger)

	return &app{
		config:     cfg,
		logger:     logger,
		translator: translator,
		store:      store,
		client:     client,
		accounts:   accounts,
		state:      state,
		autoSynced: autoSynced,
		stopAuto:   stopAuto,
		autoDone:   autoDone,
	}, nil
}

// waitForAutoSync blocks until the sync started by a sign-in finishes.
func (a *app) waitForAutoSync(ctx context.Context) {
	timer := time.NewTimer(a.config.SyncTimeout + 5*time.Second)
	defer timer.Stop()
	select {
	case <-a.autoSynced:
	case <-timer.C:
		a.logger.Warn("automatic sync did not finish in time")
	case <-ctx.Done():
	}
}

// Close stops the auto-sync loop and releases the local store.
func (a *app) Close() error {
	a.stopAuto()
	<-a.autoDone
	_ = a.logger.Sync()
	return a.store.Close()
}
