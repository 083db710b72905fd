package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type gateway struct {
	dir    string
	logger zerolog.Logger
	waLog  waLog.Logger
}

// NewGateway returns a Gateway that keeps one SQLite credential database
// per session under dir.
func NewGateway(dir string, logger zerolog.Logger) Gateway {
	return &gateway{
		dir:    dir,
		logger: logger.With().Str("component", "wa").Logger(),
		waLog:  waLog.Stdout("whatsmeow", "ERROR", false),
	}
}

func (g *gateway) Provision(ctx context.Context, sessionID string) (CredStore, error) {
	if err := os.MkdirAll(g.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating credential dir: %w", err)
	}

	path := filepath.Join(g.dir, sessionID+".db")
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)

	container, err := sqlstore.New(ctx, "sqlite3", dsn, g.waLog)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	device := container.NewDevice()

	g.logger.Debug().
		Str("session_id", sessionID).
		Str("path", path).
		Msg("Credential store provisioned")

	return &credStore{
		sessionID: sessionID,
		path:      path,
		container: container,
		device:    device,
	}, nil
}

func (g *gateway) Dial(ctx context.Context, creds CredStore) (Client, error) {
	cs, ok := creds.(*credStore)
	if !ok {
		return nil, errors.New("credential store was not provisioned by this gateway")
	}

	wm := whatsmeow.NewClient(cs.device, g.waLog)

	c := &client{
		wm:     wm,
		logger: g.logger.With().Str("session_id", cs.sessionID).Logger(),
		events: make(chan Event, eventBuffer),
	}
	c.handlerID = wm.AddEventHandler(c.handleEvent)
	return c, nil
}

type credStore struct {
	sessionID string
	path      string
	container *sqlstore.Container
	device    *store.Device
}

func (s *credStore) Path() string {
	return s.path
}

func (s *credStore) Release(deleteFiles bool) error {
	var errs []error
	if err := s.container.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing credential store: %w", err))
	}
	if deleteFiles {
		// SQLite leaves WAL side files next to the database.
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("removing %s: %w", s.path+suffix, err))
			}
		}
	}
	return errors.Join(errs...)
}
