package session

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

const (
	SendTypeText  = "text"
	SendTypeMedia = "media"
)

// Report answers a status query.
type Report struct {
	Tenant    string `json:"session"`
	Status    Status `json:"status"`
	Artifact  string `json:"artifact,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Connected bool   `json:"connected"`
}

// Manager is the caller-facing surface over the registry, reconciler and
// janitor. Every state-dependent call probes the adapter first.
type Manager struct {
	registry   *Registry
	reconciler *Reconciler
	janitor    *Janitor
	bus        EventBus.BusPublisher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewManager(registry *Registry, reconciler *Reconciler, janitor *Janitor, bus EventBus.BusPublisher, metrics *Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.L()
	}
	return &Manager{
		registry:   registry,
		reconciler: reconciler,
		janitor:    janitor,
		bus:        bus,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (m *Manager) Start(tenant string) (Status, error) {
	return m.registry.Start(tenant)
}

// Status reports the tenant's reconciled status. Unknown tenants report
// NOT_STARTED rather than an error.
func (m *Manager) Status(ctx context.Context, tenant string) (Report, error) {
	if err := ValidateTenant(tenant); err != nil {
		return Report{}, err
	}
	conn := m.reconciler.CheckConnectivity(ctx, tenant)
	snap, _ := m.registry.Snapshot(tenant)
	return Report{
		Tenant:    tenant,
		Status:    snap.Status,
		Artifact:  snap.Artifact,
		Detail:    snap.Detail,
		Connected: conn.Connected,
	}, nil
}

func (m *Manager) CheckConnectivity(ctx context.Context, tenant string) Connectivity {
	return m.reconciler.CheckConnectivity(ctx, tenant)
}

// usable resolves the adapter to send through, or the typed reason it
// cannot be used.
func (m *Manager) usable(ctx context.Context, tenant string) (Adapter, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	conn := m.reconciler.CheckConnectivity(ctx, tenant)
	if conn.Reason == ReasonNoSession {
		return nil, ErrNoSession
	}
	snap, adapter, ok := m.registry.lookup(tenant)
	switch {
	case !ok:
		return nil, ErrNoSession
	case snap.Status == StatusAuthFailure:
		return nil, ErrAuthFailure
	case !conn.Connected || snap.Status != StatusLoggedIn:
		return nil, ErrNotConnected
	}
	return adapter, nil
}

func (m *Manager) SendText(ctx context.Context, tenant, to, body string) error {
	adapter, err := m.usable(ctx, tenant)
	if err != nil {
		return err
	}
	err = adapter.SendText(ctx, to, body)
	return m.settle(tenant, to, SendTypeText, "", err)
}

func (m *Manager) SendMedia(ctx context.Context, tenant, to string, media Media) error {
	adapter, err := m.usable(ctx, tenant)
	if err != nil {
		return err
	}
	err = adapter.SendMedia(ctx, to, media)
	return m.settle(tenant, to, SendTypeMedia, media.Filename, err)
}

// settle reports a send outcome to observers, hooks and metrics.
func (m *Manager) settle(tenant, to, kind, filename string, err error) error {
	now := m.now()
	if m.bus != nil {
		m.bus.Publish(TopicDelivery, Delivery{Tenant: tenant, To: to, Type: kind, Filename: filename, Err: err, At: now})
	}
	if err != nil {
		serr := &SendError{Tenant: tenant, To: to, Err: err}
		m.metrics.sendFailed()
		m.registry.Notify(tenant, errorMessage(tenant, serr, now))
		m.logger.Warn("session: send failed", append(tenantFields(tenant), zap.String("to", to), zap.String("type", kind), zap.Error(err))...)
		return serr
	}
	m.metrics.sentOne(kind)
	m.registry.Notify(tenant, Message{Type: MessageSent, Tenant: tenant, To: to, SendType: kind, Filename: filename, At: now})
	m.logger.Info("session: message sent", append(tenantFields(tenant), zap.String("to", to), zap.String("type", kind))...)
	return nil
}

func (m *Manager) Logout(ctx context.Context, tenant string) error {
	if err := ValidateTenant(tenant); err != nil {
		return err
	}
	return m.registry.Logout(ctx, tenant)
}

func (m *Manager) DeleteCredentials(tenant string) ([]string, error) {
	return m.janitor.DeleteCredentials(tenant)
}

func (m *Manager) ForceReset(ctx context.Context, tenant string) ([]string, error) {
	return m.janitor.ForceReset(ctx, tenant)
}

func (m *Manager) Join(tenant string) (*Subscription, error) {
	return m.registry.Join(tenant)
}

func (m *Manager) List() []Snapshot {
	return m.registry.List()
}

func (m *Manager) Shutdown(ctx context.Context) error {
	return m.registry.Shutdown(ctx)
}
