package porter

import (
	"log"
	"os"
	"time"

	"github.com/emberchat/ember-core/internal/repo"
)

// Config tunes the engine.
type Config struct {
	// DeviceName and AppVersion are stamped into backup metadata.
	DeviceName string
	AppVersion string

	// Progress, when set, is invoked as long exports advance so a UI can
	// show progress. Stage is "conversations" or "messages".
	Progress func(stage string, done, total int)

	// Pace inserts a short sleep between conversations during a full
	// export, giving the progress callback visible motion on small data
	// sets. Zero disables pacing.
	Pace time.Duration

	Logger *log.Logger
}

// Engine is the import/export engine. It owns no storage; every row moves
// through the repositories.
type Engine struct {
	users         *repo.Users
	characters    *repo.Characters
	conversations *repo.Conversations
	messages      *repo.Messages
	cfg           Config
	logger        *log.Logger
	now           func() time.Time
}

// NewEngine creates an engine over the given repositories.
func NewEngine(users *repo.Users, characters *repo.Characters, conversations *repo.Conversations, messages *repo.Messages, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[porter] ", log.LstdFlags)
	}
	return &Engine{
		users:         users,
		characters:    characters,
		conversations: conversations,
		messages:      messages,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the timestamp source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) progress(stage string, done, total int) {
	if e.cfg.Progress != nil {
		e.cfg.Progress(stage, done, total)
	}
}
