package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	"github.com/talkincode/wahub/internal/session"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const (
	storeFile    = "store.db"
	eventsBuffer = 32
)

var (
	errNotInitialized = errors.New("whatsapp: client not initialized")
	errAdapterClosed  = errors.New("whatsapp: adapter closed")
)

// Options configures every adapter built by a Factory.
type Options struct {
	Layout session.CredentialLayout
	// DeviceName is shown in the phone's linked devices list.
	DeviceName string
	// PrintQR also renders pairing codes on QRWriter (stdout by default).
	PrintQR  bool
	QRWriter io.Writer
	Logger   *zap.Logger
}

// Factory builds one whatsmeow-backed adapter per tenant. Each tenant gets
// its own sqlite device store under the credential layout.
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.QRWriter == nil {
		opts.QRWriter = os.Stdout
	}
	if opts.DeviceName != "" {
		store.SetOSInfo(opts.DeviceName, [3]uint32{0, 1, 0})
	}
	return &Factory{opts: opts}
}

// New returns an unstarted adapter. No I/O happens until Initialize.
func (f *Factory) New(tenant string) (session.Adapter, error) {
	if err := session.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return &Adapter{
		tenant: tenant,
		dir:    f.opts.Layout.Dir(tenant),
		opts:   f.opts,
		logger: f.opts.Logger.With(zap.String("namespace", "whatsapp"), zap.String("tenant", tenant)),
		events: make(chan session.Event, eventsBuffer),
		done:   make(chan struct{}),
	}, nil
}

// Adapter drives one whatsmeow client and translates its callbacks into
// session lifecycle events.
type Adapter struct {
	tenant string
	dir    string
	opts   Options
	logger *zap.Logger
	events chan session.Event
	done   chan struct{}

	// initMu is held for the whole of Initialize and by Close around
	// teardown, so a client is never connected after Close.
	initMu sync.Mutex

	mu            sync.Mutex
	db            *sql.DB
	client        *whatsmeow.Client
	handlerID     uint32
	cancelQR      context.CancelFunc
	authenticated bool
	closed        bool
	closeOnce     sync.Once
}

var _ session.Adapter = (*Adapter)(nil)

func (a *Adapter) Events() <-chan session.Event { return a.events }

// Initialize opens the tenant's device store and connects. A tenant with
// no stored device starts pairing and raises auth artifacts; a stored
// device resumes its session directly.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.isClosed() {
		return errAdapterClosed
	}

	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return errors.Wrap(err, "create credential dir")
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(a.dir, storeFile))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return errors.Wrap(err, "open device store")
	}
	db.SetMaxOpenConns(1)

	walog := newLogger(a.logger)
	container := sqlstore.NewWithDB(db, "sqlite3", walog.Sub("Database"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "upgrade device store")
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return errors.Wrap(err, "load device")
	}

	client := whatsmeow.NewClient(device, walog.Sub("Client"))
	// A dropped connection ends the session; restarting is the caller's call.
	client.EnableAutoReconnect = false

	var qrCh <-chan whatsmeow.QRChannelItem
	var cancelQR context.CancelFunc
	if client.Store.ID == nil {
		var qrCtx context.Context
		qrCtx, cancelQR = context.WithCancel(context.Background())
		qrCh, err = client.GetQRChannel(qrCtx)
		if err != nil {
			cancelQR()
			_ = db.Close()
			return errors.Wrap(err, "open pairing channel")
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if cancelQR != nil {
			cancelQR()
		}
		_ = db.Close()
		return errAdapterClosed
	}
	a.db = db
	a.client = client
	a.cancelQR = cancelQR
	a.handlerID = client.AddEventHandler(a.handle)
	a.mu.Unlock()

	if qrCh != nil {
		go a.watchQR(qrCh)
		a.logger.Info("whatsapp: no stored device, pairing")
	} else {
		a.logger.Info("whatsapp: resuming stored device", zap.String("jid", client.Store.ID.String()))
	}

	if err := client.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	return nil
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch {
		case item.Event == whatsmeow.QRChannelEventCode:
			if a.opts.PrintQR {
				fmt.Fprintf(a.opts.QRWriter, "Scan to link tenant %s:\n", a.tenant)
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, a.opts.QRWriter)
			}
			a.emit(session.Event{Kind: session.EventAuthArtifact, Artifact: item.Code})
		case item.Event == whatsmeow.QRChannelSuccess.Event:
			// PairSuccess on the event handler carries the transition.
		case item.Event == whatsmeow.QRChannelTimeout.Event:
			a.emit(session.Event{Kind: session.EventAuthFailure, Detail: "pairing timed out"})
		case item.Error != nil:
			a.emit(session.Event{Kind: session.EventAuthFailure, Detail: item.Error.Error()})
		default:
			a.emit(session.Event{Kind: session.EventAuthFailure, Detail: "pairing failed: " + item.Event})
		}
	}
}

func (a *Adapter) handle(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		a.logger.Info("whatsapp: paired", zap.String("jid", e.ID.String()), zap.String("platform", e.Platform))
		a.markAuthenticated()
	case *events.Connected:
		a.markAuthenticated()
		a.emit(session.Event{Kind: session.EventReady})
	case *events.LoggedOut:
		if e.OnConnect {
			a.emit(session.Event{Kind: session.EventAuthFailure, Detail: "stored credentials rejected: " + e.Reason.String()})
			return
		}
		a.emit(session.Event{Kind: session.EventDisconnected, Detail: "logged out from phone"})
	case *events.StreamReplaced:
		a.emit(session.Event{Kind: session.EventDisconnected, Detail: "stream replaced by another client"})
	case *events.TemporaryBan:
		a.emit(session.Event{Kind: session.EventAuthFailure, Detail: e.String()})
	case *events.ClientOutdated:
		a.emit(session.Event{Kind: session.EventAuthFailure, Detail: "client outdated"})
	case *events.ConnectFailure:
		a.emit(session.Event{Kind: session.EventDisconnected, Detail: fmt.Sprintf("connect failure: %s %s", e.Reason, e.Message)})
	case *events.Disconnected:
		a.emit(session.Event{Kind: session.EventDisconnected, Detail: "connection closed"})
	}
}

// markAuthenticated raises EventAuthenticated once per adapter.
func (a *Adapter) markAuthenticated() {
	a.mu.Lock()
	already := a.authenticated
	a.authenticated = true
	a.mu.Unlock()
	if !already {
		a.emit(session.Event{Kind: session.EventAuthenticated})
	}
}

// emit never blocks past Close so whatsmeow's handler goroutine cannot wedge.
func (a *Adapter) emit(ev session.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Adapter) current() (*whatsmeow.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || a.closed {
		return nil, errNotInitialized
	}
	return a.client, nil
}

func (a *Adapter) ConnectionState(context.Context) (session.ConnState, error) {
	client, err := a.current()
	if err != nil {
		return session.ConnStateDisconnected, nil
	}
	switch {
	case !client.IsConnected():
		return session.ConnStateDisconnected, nil
	case !client.IsLoggedIn():
		return session.ConnStateOpening, nil
	default:
		return session.ConnStateConnected, nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to, body string) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	_, err = client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	return err
}

func (a *Adapter) SendMedia(ctx context.Context, to string, media session.Media) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	kind, mime := Classify(media.Data, media.MIME)
	up, err := client.Upload(ctx, media.Data, kind.mediaType())
	if err != nil {
		return errors.Wrap(err, "upload media")
	}
	_, err = client.SendMessage(ctx, jid, buildMediaMessage(kind, mime, media, up))
	return err
}

func (a *Adapter) Logout(ctx context.Context) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	if !client.IsLoggedIn() {
		return errors.New("whatsapp: not logged in")
	}
	return client.Logout(ctx)
}

// Close disconnects the client and releases the device store. Stored
// credentials stay on disk.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		a.initMu.Lock()
		defer a.initMu.Unlock()
		a.mu.Lock()
		client, db, cancel := a.client, a.db, a.cancelQR
		a.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if client != nil {
			client.RemoveEventHandler(a.handlerID)
			client.Disconnect()
		}
		if db != nil {
			err = db.Close()
		}
	})
	return err
}

func buildMediaMessage(kind MediaKind, mime string, media session.Media, up whatsmeow.UploadResponse) *waE2E.Message {
	switch kind {
	case MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optional(media.Caption),
			Mimetype:      proto.String(mime),
			FileName:      optional(media.Filename),
			Title:         optional(media.Filename),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
