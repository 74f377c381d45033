package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wagate/internal/bridge"
)

// eventTimeout bounds the store writes triggered by a single lifecycle signal.
const eventTimeout = 10 * time.Second

// ControllerConfig carries the filesystem layout and transport settings.
type ControllerConfig struct {
	// DataDir is the base data directory; credentials live under
	// DataDir/auth/session-<id>/ and transport caches under DataDir/cache/.
	DataDir string
	// BrowserPath is the resolved browser executable handed to the client
	// factory for transports that need one.
	BrowserPath string
}

// Controller owns the session lifecycle state machine: it materializes
// connections, applies the transport's lifecycle signals to the registry and
// store, and reconciles on-disk credential state across restarts. It is the
// only writer of the registry and the session store.
type Controller struct {
	log     zerolog.Logger
	store   Store
	reg     *Registry
	factory bridge.Factory
	cfg     ControllerConfig

	mu sync.Mutex
}

func NewController(log zerolog.Logger, store Store, reg *Registry, factory bridge.Factory, cfg ControllerConfig) (*Controller, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if factory == nil {
		return nil, errors.New("bridge factory is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("data dir is required")
	}

	return &Controller{log: log, store: store, reg: reg, factory: factory, cfg: cfg}, nil
}

func (c *Controller) authRoot() string  { return filepath.Join(c.cfg.DataDir, "auth") }
func (c *Controller) cacheRoot() string { return filepath.Join(c.cfg.DataDir, "cache") }

func (c *Controller) credentialDir(sessionID string) string {
	return filepath.Join(c.authRoot(), "session-"+sessionID)
}

// markerPath is the delete-marker sentinel beside the credential directory.
func (c *Controller) markerPath(sessionID string) string {
	return c.credentialDir(sessionID) + ".delete"
}

// Materialize returns the live connection for sessionID, starting one if none
// exists. Idempotent: a pending or ready entry is returned unchanged, and
// concurrent callers never start a second connection for the same id.
func (c *Controller) Materialize(ctx context.Context, sessionID string) (bridge.Client, error) {
	c.mu.Lock()
	if handle := c.reg.Get(sessionID); handle != nil {
		c.mu.Unlock()
		return handle, nil
	}

	if err := os.MkdirAll(c.credentialDir(sessionID), 0o700); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	// A marker left by an earlier logout targets the previous credential
	// instance. Clear it now, or the next start would purge the
	// credentials this session is about to pair.
	if err := os.Remove(c.markerPath(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.mu.Unlock()
		return nil, fmt.Errorf("clear stale delete marker: %w", err)
	}
	if err := os.MkdirAll(c.cacheRoot(), 0o755); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	handle, err := c.factory(bridge.Config{
		SessionID:     sessionID,
		CredentialDir: c.credentialDir(sessionID),
		CacheDir:      c.cacheRoot(),
		BrowserPath:   c.cfg.BrowserPath,
	}, func(evt bridge.Event) {
		c.dispatch(sessionID, evt)
	})
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("construct bridge client: %w", err)
	}

	// Register the pending entry before the asynchronous connect so that
	// concurrent callers observe an in-flight session instead of racing a
	// second connection attempt.
	c.reg.Set(sessionID, handle)
	c.mu.Unlock()

	c.log.Info().Str("session", sessionID).Msg("starting bridge client")

	if err := c.handleStart(ctx, sessionID, handle); err != nil {
		return nil, err
	}
	return handle, nil
}

func (c *Controller) handleStart(ctx context.Context, sessionID string, handle bridge.Client) error {
	if err := handle.Start(ctx); err != nil {
		c.reg.Clear(sessionID)
		return fmt.Errorf("start bridge client: %w", err)
	}
	return nil
}

// Destroy performs an operator-initiated logout: best-effort stop, mark the
// credentials for deletion at the next clean start, record DISCONNECTED, and
// drop the registry entry.
func (c *Controller) Destroy(ctx context.Context, sessionID string) error {
	handle := c.reg.Get(sessionID)
	if handle == nil {
		return ErrSessionNotFound
	}

	if err := handle.Stop(ctx); err != nil {
		// Teardown must not block session-state cleanup.
		c.log.Warn().Err(err).Str("session", sessionID).Msg("ignoring bridge stop error")
	}

	c.writeDeleteMarker(sessionID)
	c.reg.Clear(sessionID)

	if err := c.store.Upsert(ctx, Session{SessionID: sessionID, Status: StatusDisconnected}); err != nil {
		return fmt.Errorf("record disconnect: %w", err)
	}

	c.log.Info().Str("session", sessionID).Msg("session destroyed; credentials will be purged on next start")
	return nil
}

// RestoreOnStartup reconciles on-disk credential state for sessionID before
// the process serves requests. A pending delete-marker is honored now, while
// no transport holds the credential files; surviving credentials trigger an
// automatic reconnect.
func (c *Controller) RestoreOnStartup(ctx context.Context, sessionID string) error {
	marker := c.markerPath(sessionID)
	if _, err := os.Stat(marker); err == nil {
		if err := os.RemoveAll(c.credentialDir(sessionID)); err != nil {
			return fmt.Errorf("purge marked credentials: %w", err)
		}
		if err := os.Remove(marker); err != nil {
			return fmt.Errorf("clear delete marker: %w", err)
		}
		c.log.Info().Str("session", sessionID).Msg("purged credentials marked for deletion")
	}

	if _, err := os.Stat(c.credentialDir(sessionID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Info().Str("session", sessionID).Msg("no saved credentials; waiting for operator login")
			return nil
		}
		return err
	}

	if _, err := c.Materialize(ctx, sessionID); err != nil {
		// Startup reconnect is best-effort; the operator can always
		// request a fresh pairing code.
		c.log.Error().Err(err).Str("session", sessionID).Msg("failed to restore session")
	} else {
		c.log.Info().Str("session", sessionID).Msg("restoring saved session")
	}
	return nil
}

// dispatch applies one lifecycle signal. Signals arrive from the transport's
// event loop; failures are logged and never propagated back into it.
func (c *Controller) dispatch(sessionID string, evt bridge.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch evt.Kind {
	case bridge.EventQR:
		c.handleQR(ctx, sessionID, evt)
	case bridge.EventAuthenticated:
		// Provisional until the ready signal confirms the connection.
		c.log.Info().Str("session", sessionID).Msg("bridge authenticated")
	case bridge.EventReady:
		c.handleReady(ctx, sessionID, evt)
	case bridge.EventDisconnected:
		c.handleDisconnected(ctx, sessionID, evt)
	default:
		c.log.Warn().Str("session", sessionID).Str("kind", string(evt.Kind)).Msg("unknown lifecycle signal")
	}
}

func (c *Controller) handleQR(ctx context.Context, sessionID string, evt bridge.Event) {
	img, err := bridge.RenderQR(evt.Code)
	if err != nil {
		c.log.Error().Err(err).Str("session", sessionID).Msg("failed to render pairing code")
		return
	}

	c.reg.SetQR(sessionID, img)

	if err := c.store.MarkPending(ctx, sessionID); err != nil {
		c.log.Error().Err(err).Str("session", sessionID).Msg("failed to record pending session")
		return
	}
	c.log.Info().Str("session", sessionID).Msg("pairing code issued")
}

func (c *Controller) handleReady(ctx context.Context, sessionID string, evt bridge.Event) {
	c.reg.MarkReady(sessionID)

	err := c.store.Upsert(ctx, Session{
		SessionID:       sessionID,
		Status:          StatusReady,
		IsAuthenticated: true,
		PhoneNumber:     evt.PhoneNumber,
		AuthPath:        c.credentialDir(sessionID),
	})
	if err != nil {
		c.log.Error().Err(err).Str("session", sessionID).Msg("failed to record ready session")
		return
	}
	c.log.Info().Str("session", sessionID).Str("phone", evt.PhoneNumber).Msg("bridge ready")
}

func (c *Controller) handleDisconnected(ctx context.Context, sessionID string, evt bridge.Event) {
	if !isRemoteLogout(evt.Reason) {
		// Transport-level disconnect: keep credentials so the next
		// restart can reconnect without a fresh pairing.
		c.reg.Clear(sessionID)
		c.log.Warn().Str("session", sessionID).Str("reason", evt.Reason).Msg("bridge disconnected; credentials retained")
		return
	}

	// Remote logout. The transport may still hold open handles on the
	// credential files, so deletion is deferred to the next clean start.
	c.writeDeleteMarker(sessionID)

	if err := c.store.Delete(ctx, sessionID); err != nil {
		c.log.Error().Err(err).Str("session", sessionID).Msg("failed to delete session record")
	}
	c.reg.Clear(sessionID)
	c.log.Info().Str("session", sessionID).Msg("remote logout; credentials marked for deletion")
}

func (c *Controller) writeDeleteMarker(sessionID string) {
	if err := os.WriteFile(c.markerPath(sessionID), []byte("delete\n"), 0o600); err != nil {
		c.log.Warn().Err(err).Str("session", sessionID).Msg("failed to write delete marker")
	}
}

func isRemoteLogout(reason string) bool {
	return strings.EqualFold(reason, bridge.ReasonLogout)
}
