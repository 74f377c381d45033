package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

const credentialDBName = "session.db"

// meowClient adapts a whatsmeow connection to the Client contract. It speaks
// the native multi-device protocol, so Config.BrowserPath is unused; the
// credential directory holds the sqlite device store the transport pairs
// against, which keeps the delete-marker and restore-on-boot semantics intact.
type meowClient struct {
	cli  *whatsmeow.Client
	emit func(Event)
}

// NewWhatsmeowClient is the production Factory.
func NewWhatsmeowClient(cfg Config, emit func(Event)) (Client, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if cfg.CredentialDir == "" {
		return nil, errors.New("credential dir is required")
	}
	if emit == nil {
		return nil, errors.New("event callback is required")
	}

	if err := os.MkdirAll(cfg.CredentialDir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.Join(cfg.CredentialDir, credentialDBName))
	container, err := sqlstore.New("sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	device, err := container.GetFirstDevice()
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	m := &meowClient{
		cli:  whatsmeow.NewClient(device, waLog.Noop),
		emit: emit,
	}
	m.cli.AddEventHandler(m.translate)
	return m, nil
}

func (m *meowClient) Start(ctx context.Context) error {
	if m.cli.Store.ID != nil {
		// Credentials already paired; no QR round is needed.
		return m.cli.Connect()
	}

	qrChan, err := m.cli.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("open qr channel: %w", err)
	}
	if err := m.cli.Connect(); err != nil {
		return err
	}

	go func() {
		for item := range qrChan {
			if item.Event == whatsmeow.QRChannelEventCode {
				m.emit(Event{Kind: EventQR, Code: item.Code})
			}
		}
	}()

	return nil
}

func (m *meowClient) Stop(ctx context.Context) error {
	m.cli.Disconnect()
	return nil
}

func (m *meowClient) SendText(ctx context.Context, to, body string) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse destination %q: %w", to, err)
	}

	resp, err := m.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// translate maps transport events onto the four lifecycle signals.
func (m *meowClient) translate(raw any) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		m.emit(Event{Kind: EventAuthenticated, PhoneNumber: evt.ID.User})
	case *events.Connected:
		var phone string
		if id := m.cli.Store.ID; id != nil {
			phone = id.User
		}
		m.emit(Event{Kind: EventReady, PhoneNumber: phone})
	case *events.LoggedOut:
		m.emit(Event{Kind: EventDisconnected, Reason: ReasonLogout})
	case *events.Disconnected:
		m.emit(Event{Kind: EventDisconnected, Reason: "transport closed"})
	case *events.StreamError:
		m.emit(Event{Kind: EventDisconnected, Reason: "stream error"})
	}
}
