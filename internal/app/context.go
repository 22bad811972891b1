package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"stageline/internal/blocker"
	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/history"
	"stageline/internal/logger"
	"stageline/internal/migrate"
	"stageline/internal/schema"
	"stageline/internal/store"
)

// Workspace is a resolved base directory plus its effective configuration.
// Every relative path a command touches is anchored here, never at the process cwd.
type Workspace struct {
	Dir    string
	Config *config.Config
	// FromFile is true when stageline.yml exists in Dir.
	FromFile bool
}

// Resolve loads stageline.yml from workspace when present and falls back to
// the built-in defaults otherwise.
func Resolve(workspace string) (*Workspace, error) {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	cfg, err := config.LoadOptional(abs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(abs), err)
	}
	ws := &Workspace{Dir: abs, Config: cfg, FromFile: cfg != nil}
	if cfg == nil {
		ws.Config = config.Default()
	}
	return ws, nil
}

// Path anchors p at the workspace unless it is absolute.
func (w *Workspace) Path(p string) string {
	return config.ResolvePath(w.Dir, p)
}

func (w *Workspace) JobsDir() string     { return w.Path(w.Config.Paths.JobsDir) }
func (w *Workspace) BlockerPath() string { return w.Path(w.Config.Paths.Blocker) }
func (w *Workspace) SchemaPath() string  { return w.Path(w.Config.Paths.Schema) }

func (w *Workspace) Store() *store.Store {
	return store.New(w.Path(w.Config.Paths.KnowledgeStore))
}

// Schema loads the configured descriptor. A missing file yields nil, nil.
func (w *Workspace) Schema() (*schema.Descriptor, error) {
	p := w.SchemaPath()
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return nil, nil
	}
	return schema.Load(p)
}

// OpenHistory opens the run history database, or returns nil when history is
// disabled in the config. Callers close a non-nil recorder.
func (w *Workspace) OpenHistory() (*history.Recorder, error) {
	if !w.Config.HistoryEnabled() {
		return nil, nil
	}
	return history.Open(w.Dir)
}

// BlockerPresent reports whether a blocker artifact is on disk.
func (w *Workspace) BlockerPresent() bool {
	return blocker.Exists(w.BlockerPath())
}

// HistoryStatus describes the run history database.
type HistoryStatus struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	Version int    `json:"schema_version"`
	Latest  int    `json:"latest_version"`
}

// HistoryStatus inspects the history database without creating it.
func (w *Workspace) HistoryStatus() (HistoryStatus, error) {
	st := HistoryStatus{
		Enabled: w.Config.HistoryEnabled(),
		Path:    db.Path(w.Dir),
		Exists:  db.Exists(w.Dir),
	}
	latest, err := migrate.Latest()
	if err != nil {
		return st, fmt.Errorf("load migrations: %w", err)
	}
	st.Latest = latest
	if !st.Exists {
		return st, nil
	}
	conn, err := db.Open(db.Config{Workspace: w.Dir})
	if err != nil {
		return st, fmt.Errorf("open history db: %w", err)
	}
	defer conn.Close()
	if st.Version, err = migrate.Version(conn); err != nil {
		return st, fmt.Errorf("read schema version: %w", err)
	}
	return st, nil
}

// Logger builds the workspace logger. Non-empty level and a true json flag
// override the config.
func (w *Workspace) Logger(level string, json bool) logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(w.Config.Log.Level)
	if level != "" {
		cfg.Level = logger.ParseLevel(level)
	}
	cfg.JSON = w.Config.Log.JSON || json
	return logger.NewLogger(cfg)
}

const lockRetryDelay = 100 * time.Millisecond

// LockStore takes the advisory lock that serializes ingestion runs on the
// knowledge store. It waits until ctx is done.
func (w *Workspace) LockStore(ctx context.Context) (*flock.Flock, error) {
	path := w.Store().Path() + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock knowledge store: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock knowledge store: %s is held by another process", path)
	}
	return lock, nil
}
