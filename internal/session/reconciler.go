package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Reason explains a connectivity verdict.
type Reason string

const (
	ReasonConnected    Reason = "CONNECTED"
	ReasonNoSession    Reason = "NO_SESSION"
	ReasonNotConnected Reason = "NOT_CONNECTED"
)

type Connectivity struct {
	Connected bool   `json:"connected"`
	Reason    Reason `json:"reason"`
}

// Reconciler asks adapters for ground truth before callers trust cached
// status. A probe that errors or times out counts as not connected.
type Reconciler struct {
	registry *Registry
	timeout  time.Duration
	ttl      time.Duration
	metrics  *Metrics
	logger   *zap.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewReconciler builds a Reconciler. A probe result younger than ttl is
// reused instead of probing again; ttl <= 0 probes on every call.
func NewReconciler(registry *Registry, timeout, ttl time.Duration, metrics *Metrics, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.L()
	}
	return &Reconciler{
		registry: registry,
		timeout:  timeout,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (rc *Reconciler) CheckConnectivity(ctx context.Context, tenant string) Connectivity {
	snap, adapter, ok := rc.registry.lookup(tenant)
	if !ok {
		return Connectivity{Reason: ReasonNoSession}
	}
	if rc.ttl > 0 && !snap.LastReconciledAt.IsZero() && rc.now().Sub(snap.LastReconciledAt) < rc.ttl {
		return verdict(snap.LastKnownConnected)
	}

	// Keyed by adapter too: a restarted tenant must not share a probe of
	// the adapter it replaced.
	key := fmt.Sprintf("%s/%p", tenant, adapter)
	v, _, _ := rc.group.Do(key, func() (interface{}, error) {
		return rc.probe(ctx, tenant, adapter), nil
	})
	return verdict(v.(bool))
}

func (rc *Reconciler) probe(ctx context.Context, tenant string, adapter Adapter) bool {
	// Concurrent callers share this probe, so one caller's cancellation
	// must not fail the others.
	ctx = context.WithoutCancel(ctx)
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	state, err := adapter.ConnectionState(ctx)
	connected := err == nil && state == ConnStateConnected
	if err != nil {
		rc.metrics.probeFailed()
		rc.logger.Info("session: connectivity probe failed", append(tenantFields(tenant), zap.Error(err))...)
	}
	rc.registry.recordProbe(tenant, adapter, connected, rc.now())
	return connected
}

func verdict(connected bool) Connectivity {
	if connected {
		return Connectivity{Connected: true, Reason: ReasonConnected}
	}
	return Connectivity{Reason: ReasonNotConnected}
}
