package main

import (
	"fmt"
	"log"

	"github.com/emberchat/ember-core/internal/breaker"
	"github.com/emberchat/ember-core/internal/config"
	"github.com/emberchat/ember-core/internal/porter"
	"github.com/emberchat/ember-core/internal/remote"
	"github.com/emberchat/ember-core/internal/repo"
	"github.com/emberchat/ember-core/internal/store"
	"github.com/emberchat/ember-core/internal/syncer"
)

// app bundles the store and repositories every command needs. Commands call
// openApp, do their work, and defer Close.
type app struct {
	cfg *config.Config
	db  *store.DB

	users         *repo.Users
	characters    *repo.Characters
	conversations *repo.Conversations
	messages      *repo.Messages
	memories      *repo.Memories
	learnings     *repo.Learnings
}

func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &app{
		cfg:           cfg,
		db:            db,
		users:         repo.NewUsers(db),
		characters:    repo.NewCharacters(db),
		conversations: repo.NewConversations(db),
		messages:      repo.NewMessages(db),
		memories:      repo.NewMemories(db),
		learnings:     repo.NewLearnings(db),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// porter builds the import/export engine.
func (a *app) porter(progress func(stage string, done, total int)) *porter.Engine {
	return porter.NewEngine(a.users, a.characters, a.conversations, a.messages, porter.Config{
		DeviceName: a.cfg.DeviceName,
		AppVersion: version,
		Progress:   progress,
	})
}

// breakers builds a circuit registry from configured thresholds.
func (a *app) breakers() *breaker.Registry {
	return breaker.NewRegistry(breaker.Options{
		FailureThreshold: a.cfg.BreakerThreshold,
		ResetTimeout:     a.cfg.BreakerReset,
	})
}

// reconciler wires the sync pipeline. Fails when no remote is configured.
func (a *app) reconciler(breakers *breaker.Registry, logger *log.Logger) (*syncer.Reconciler, error) {
	if a.cfg.RemoteURL == "" {
		return nil, fmt.Errorf("no remote_url configured; set it in %s or EMBER_REMOTE_URL", config.Dir())
	}

	client := remote.NewHTTPClient(a.cfg.RemoteURL, remote.StaticToken(a.cfg.Token), nil)
	sources := syncer.StandardSources(a.characters, a.conversations, a.messages, a.memories, a.learnings)
	return syncer.New(a.db, client, breakers, sources, logger), nil
}
