package audit

import (
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/wahub/internal/session"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const webhookTimeout = 5 * time.Second

// WebhookPayload is the JSON body POSTed for each transition.
type WebhookPayload struct {
	Event  string    `json:"event"`
	Tenant string    `json:"session"`
	From   string    `json:"from"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Webhook forwards lifecycle transitions to an HTTP endpoint. Delivery is
// best effort: failures are logged and never retried.
type Webhook struct {
	url    string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan WebhookPayload
	done   chan struct{}

	bus     EventBus.BusSubscriber
	handler func(session.Transition)
}

func NewWebhook(url string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.L()
	}
	w := &Webhook{
		url:    url,
		logger: logger.With(zap.String("namespace", "webhook")),
		queue:  make(chan WebhookPayload, defaultQueueSize),
		done:   make(chan struct{}),
	}
	w.handler = w.transition
	go w.run()
	return w
}

func (w *Webhook) Subscribe(bus EventBus.BusSubscriber) error {
	if err := bus.Subscribe(session.TopicTransition, w.handler); err != nil {
		return err
	}
	w.bus = bus
	return nil
}

func (w *Webhook) transition(tr session.Transition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	p := WebhookPayload{
		Event:  "status",
		Tenant: tr.Tenant,
		From:   tr.From.String(),
		Status: tr.To.String(),
		Detail: tr.Detail,
		At:     tr.At,
	}
	select {
	case w.queue <- p:
	default:
		w.logger.Warn("webhook: queue full, dropping", zap.String("tenant", tr.Tenant), zap.String("status", p.Status))
	}
}

func (w *Webhook) run() {
	defer close(w.done)
	for p := range w.queue {
		if err := w.Post(p); err != nil {
			w.logger.Warn("webhook: delivery failed", zap.String("tenant", p.Tenant), zap.String("status", p.Status), zap.Error(err))
		}
	}
}

// Post sends one payload synchronously.
func (w *Webhook) Post(p WebhookPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var code int
	err = gout.POST(w.url).
		SetHeader(gout.H{"Content-Type": "application/json"}).
		SetBody(body).
		SetTimeout(webhookTimeout).
		Code(&code).
		Do()
	if err != nil {
		return err
	}
	if code < 200 || code > 299 {
		return errors.Errorf("webhook: unexpected status %d", code)
	}
	return nil
}

// Close detaches from the bus and waits for queued deliveries.
func (w *Webhook) Close() {
	if w.bus != nil {
		_ = w.bus.Unsubscribe(session.TopicTransition, w.handler)
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
