// Package controlplane implements C11: the daemon's boot sequence, wiring
// the storage, bus, orchestrator, and notification layers together and
// exposing health/metrics. The sequence follows cmd/semspec/app.go's
// NewApp/Start shape (open storage, start/connect NATS, bring up
// dependent components) generalized from a single LLM-agent app to
// relbot's multi-component pipeline.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/relbot/pkg/bus"
	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/netutil"
	"github.com/c360studio/relbot/pkg/relbot/apisync"
	"github.com/c360studio/relbot/pkg/relbot/approval"
	"github.com/c360studio/relbot/pkg/relbot/conversation"
	"github.com/c360studio/relbot/pkg/relbot/jenkinsorch"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/notifier"
	"github.com/c360studio/relbot/pkg/relbot/ssoorch"
	"github.com/c360studio/relbot/pkg/relbot/statemachine"
	"github.com/c360studio/relbot/pkg/relbot/supervisor"
	"github.com/c360studio/relbot/pkg/sqlstore"
	"github.com/c360studio/relbot/pkg/ssoclient"
)

// Config collects everything the boot sequence needs from the outside.
type Config struct {
	DBPath          string
	NATSURL         string
	MetricsAddr     string
	APISyncInterval time.Duration
}

// ControlPlane holds every wired component, ready for cmd/relbotd to feed
// chat events into.
type ControlPlane struct {
	Store        *sqlstore.Store
	Config       *configstore.Store
	Bus          *bus.Bus
	Notifier     *notifier.Notifier
	Approval     *approval.Dispatcher
	Conversation *conversation.Engine
	SSOOrch      *jenkinsWrapper
	metricsSrv   *http.Server
	logger       *slog.Logger
}

// jenkinsWrapper bundles the two downstream orchestrators so one internal
// subscription can fan a decided workflow out to both.
type jenkinsWrapper struct {
	sso     *ssoorch.Orchestrator
	jenkins *jenkinsorch.Orchestrator
}

var workflowsDecided = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "relbot_workflows_decided_total",
	Help: "Total deployment requests approved or rejected, by outcome.",
}, []string{"status"})

func init() {
	prometheus.MustRegister(workflowsDecided)
}

// Boot runs the 7-step startup sequence: open the store, load config,
// connect the bus, wire notification, wire the approval dispatcher, wire
// the downstream orchestrators, and start the background loops
// (decision fan-out, periodic API sync, metrics server).
func Boot(ctx context.Context, cfg Config, transport chatapi.Transport, logger *slog.Logger) (*ControlPlane, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. storage
	store, err := sqlstore.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("controlplane: open store: %w", err)
	}

	// 2. configuration
	cs, err := configstore.New(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("controlplane: init config: %w", err)
	}

	// 3. bus
	b, err := bus.Connect(ctx, cfg.NATSURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("controlplane: connect bus: %w", err)
	}

	convKV, err := bus.EnsureKV(ctx, b.JetStream(), conversation.Bucket, 24*time.Hour)
	if err != nil {
		b.Close(5 * time.Second)
		store.Close()
		return nil, fmt.Errorf("controlplane: ensure conversation bucket: %w", err)
	}
	convEngine := conversation.New(convKV, cs)

	// 4. notification
	n := notifier.New(transport)

	// 5. approval
	sm := statemachine.New(store)
	dispatcher := approval.New(store, cs, n, sm, b.Conn(), logger)

	// 6. downstream orchestrators
	ssoHTTPClient, err := netutil.NewClient(netutil.ClientOptions{ConnectTimeout: 10 * time.Second, ReadTimeout: 30 * time.Second})
	if err != nil {
		b.Close(5 * time.Second)
		store.Close()
		return nil, fmt.Errorf("controlplane: build sso http client: %w", err)
	}
	ssoBaseURL, _ := cs.GetAppConfig(ctx, model.KeySSOURL, "")
	ssoAuthHeader, _ := cs.GetAppConfig(ctx, model.KeySSOAuthorization, "Authorization")
	ssoAuthToken, _ := cs.GetAppConfig(ctx, model.KeySSOAuthToken, "")
	ssoC := ssoclient.New(ssoBaseURL, ssoAuthHeader, ssoAuthToken, ssoHTTPClient)
	ssoOrch := ssoorch.New(store, cs, ssoC, n, logger)
	jenkinsOrch := jenkinsorch.New(store, cs, n, logger)

	cp := &ControlPlane{
		Store:        store,
		Config:       cs,
		Bus:          b,
		Notifier:     n,
		Approval:     dispatcher,
		Conversation: convEngine,
		SSOOrch:      &jenkinsWrapper{sso: ssoOrch, jenkins: jenkinsOrch},
		logger:       logger,
	}

	// 7. background loops: decision fan-out, periodic API sync, metrics.
	if err := cp.subscribeDecisions(ctx); err != nil {
		b.Close(5 * time.Second)
		store.Close()
		return nil, err
	}
	syncer := apisync.New(store, cs, ssoHTTPClient, logger)
	interval := cfg.APISyncInterval
	if interval <= 0 {
		interval = time.Minute
	}
	supervisor.Run(ctx, logger, "apisync", interval, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := syncer.Sync(ctx); err != nil {
					logger.Error("controlplane: api sync pass failed", "error", err)
				}
			}
		}
	})

	if cfg.MetricsAddr != "" {
		cp.startMetricsServer(cfg.MetricsAddr)
	}

	return cp, nil
}

func (cp *ControlPlane) subscribeDecisions(ctx context.Context) error {
	_, err := cp.Bus.Conn().Subscribe(approval.DecidedSubject, func(msg *nats.Msg) {
		var evt approval.DecidedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			cp.logger.Error("controlplane: decode decided event failed", "error", err)
			return
		}
		workflowsDecided.WithLabelValues(statusLabel(evt.Approved)).Inc()
		if !evt.Approved {
			return
		}
		wf, err := cp.Store.GetWorkflow(ctx, evt.WorkflowID)
		if err != nil {
			cp.logger.Error("controlplane: load decided workflow failed", "workflow_id", evt.WorkflowID, "error", err)
			return
		}
		cp.SSOOrch.sso.Handle(ctx, wf)
		cp.SSOOrch.jenkins.Handle(ctx, wf)
	})
	if err != nil {
		return fmt.Errorf("controlplane: subscribe decisions: %w", err)
	}
	return nil
}

func statusLabel(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}

func (cp *ControlPlane) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	cp.metricsSrv = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cp.logger.Error("controlplane: metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the metrics server and drains the bus connection.
func (cp *ControlPlane) Shutdown(ctx context.Context) {
	if cp.metricsSrv != nil {
		_ = cp.metricsSrv.Shutdown(ctx)
	}
	cp.Bus.Close(5 * time.Second)
	_ = cp.Store.Close()
}
