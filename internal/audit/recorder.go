package audit

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/talkincode/wahub/internal/domain"
	"github.com/talkincode/wahub/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KindTransition = "transition"
	KindDelivery   = "delivery"

	defaultQueueSize = 1024
	maxListLimit     = 500
)

type record struct {
	event   domain.WhatsAppSessionEvent
	session *domain.WhatsAppSession
}

// Recorder persists lifecycle transitions and send outcomes published on
// the internal bus. Bus handlers run inside the session registry's lock, so
// they only enqueue; a single writer goroutine does the database work.
type Recorder struct {
	db     *gorm.DB
	node   *snowflake.Node
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan record
	done   chan struct{}

	bus          EventBus.BusSubscriber
	onTransition func(session.Transition)
	onDelivery   func(session.Delivery)
}

func NewRecorder(db *gorm.DB, logger *zap.Logger) (*Recorder, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L()
	}
	r := &Recorder{
		db:     db,
		node:   node,
		logger: logger.With(zap.String("namespace", "audit")),
		queue:  make(chan record, defaultQueueSize),
		done:   make(chan struct{}),
	}
	r.onTransition = r.transition
	r.onDelivery = r.delivery
	go r.run()
	return r, nil
}

// Subscribe attaches the recorder to the bus topics of the session layer.
func (r *Recorder) Subscribe(bus EventBus.BusSubscriber) error {
	if err := bus.Subscribe(session.TopicTransition, r.onTransition); err != nil {
		return err
	}
	if err := bus.Subscribe(session.TopicDelivery, r.onDelivery); err != nil {
		_ = bus.Unsubscribe(session.TopicTransition, r.onTransition)
		return err
	}
	r.bus = bus
	return nil
}

func (r *Recorder) transition(tr session.Transition) {
	rec := record{event: domain.WhatsAppSessionEvent{
		Tenant:  tr.Tenant,
		Kind:    KindTransition,
		From:    tr.From.String(),
		Status:  tr.To.String(),
		Detail:  tr.Detail,
		OptTime: tr.At,
	}}
	sess := &domain.WhatsAppSession{Tenant: tr.Tenant, Status: tr.To.String(), Detail: tr.Detail, UpdatedAt: tr.At}
	if tr.To == session.StatusStarting {
		sess.StartedAt = tr.At
	}
	rec.session = sess
	r.enqueue(rec)
}

func (r *Recorder) delivery(d session.Delivery) {
	ev := domain.WhatsAppSessionEvent{
		Tenant:   d.Tenant,
		Kind:     KindDelivery,
		Status:   "sent",
		Peer:     d.To,
		SendType: d.Type,
		Filename: d.Filename,
		OptTime:  d.At,
	}
	if d.Err != nil {
		ev.Status = "failed"
		ev.Detail = d.Err.Error()
	}
	r.enqueue(record{event: ev})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("audit: queue full, dropping record",
			zap.String("tenant", rec.event.Tenant), zap.String("kind", rec.event.Kind))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec record) {
	rec.event.ID = r.node.Generate().Int64()
	if rec.event.OptTime.IsZero() {
		rec.event.OptTime = time.Now()
	}
	if err := r.db.Create(&rec.event).Error; err != nil {
		r.logger.Error("audit: write event failed", zap.String("tenant", rec.event.Tenant), zap.Error(err))
	}
	if rec.session == nil {
		return
	}
	columns := []string{"status", "detail", "updated_at"}
	if !rec.session.StartedAt.IsZero() {
		columns = append(columns, "started_at")
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(rec.session).Error
	if err != nil {
		r.logger.Error("audit: update session failed", zap.String("tenant", rec.session.Tenant), zap.Error(err))
	}
}

// Close detaches from the bus and blocks until queued records are written.
func (r *Recorder) Close() {
	if r.bus != nil {
		_ = r.bus.Unsubscribe(session.TopicTransition, r.onTransition)
		_ = r.bus.Unsubscribe(session.TopicDelivery, r.onDelivery)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

// List returns the tenant's newest events first.
func (r *Recorder) List(ctx context.Context, tenant string, limit int) ([]domain.WhatsAppSessionEvent, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var out []domain.WhatsAppSessionEvent
	err := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("opt_time desc").Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Purge deletes events older than days and reports how many went.
func (r *Recorder) Purge(days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	res := r.db.
		Where("opt_time < ?", time.Now().Add(-time.Hour*24*time.Duration(days))).
		Delete(&domain.WhatsAppSessionEvent{})
	return res.RowsAffected, res.Error
}

// Resumable lists tenants that were logged in when last seen.
func (r *Recorder) Resumable(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.db.WithContext(ctx).
		Model(&domain.WhatsAppSession{}).
		Where("status = ?", session.StatusLoggedIn.String()).
		Order("tenant").
		Pluck("tenant", &tenants).Error
	return tenants, err
}
