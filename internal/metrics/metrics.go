// Package metrics turns bus events into Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var connStates = []status.State{status.Closed, status.Connecting, status.Open, status.Failed}

// Collector owns a registry with the series of one conversation.
type Collector struct {
	registry *prometheus.Registry
	bus      *bus.Bus
	cancel   context.CancelFunc
	done     chan struct{}

	applied    prometheus.Counter
	duplicates prometheus.Counter
	statuses   prometheus.Counter
	polls      prometheus.Counter
	sends      *prometheus.CounterVec
	reconnects prometheus.Counter
	fatal      prometheus.Counter
	connState  *prometheus.GaugeVec
}

// New registers the series for conversationID.
func New(conversationID string, b *bus.Bus) *Collector {
	labels := prometheus.Labels{"conversation": conversationID}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bus:      b,
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_messages_applied_total", Help: "Messages appended to the timeline.", ConstLabels: labels,
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_messages_duplicate_total", Help: "Fetched or pushed messages absorbed by the ledger.", ConstLabels: labels,
		}),
		statuses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_status_updates_total", Help: "Delivery state changes applied.", ConstLabels: labels,
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_polls_total", Help: "Completed fetch-since cycles.", ConstLabels: labels,
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_sends_total", Help: "Send outcomes.", ConstLabels: labels,
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_reconnect_attempts_total", Help: "Scheduled push reconnects.", ConstLabels: labels,
		}),
		fatal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_fatal_total", Help: "Terminal synchronization failures.", ConstLabels: labels,
		}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatsync_connection_state", Help: "1 for the current push connection state.", ConstLabels: labels,
		}, []string{"state"}),
	}
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "chatsync_bus_dropped_events_total", Help: "Events lost to full subscriber buffers.", ConstLabels: labels,
	}, func() float64 { return float64(b.Dropped()) })
	c.registry.MustRegister(
		dropped,
		c.applied, c.duplicates, c.statuses, c.polls, c.sends, c.reconnects, c.fatal, c.connState,
		collectors.NewGoCollector(),
	)
	c.setState(status.Closed)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Start consumes bus events until Stop.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ch, unsub := c.bus.Subscribe("", 512)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.Observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming events.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Observe updates the series for one event.
func (c *Collector) Observe(evt bus.Event) {
	switch evt.Kind {
	case bus.TimelineAppended:
		c.applied.Inc()
	case bus.TimelineStatusChanged:
		c.statuses.Inc()
	case bus.SyncPolled:
		c.polls.Inc()
		if p, ok := evt.Payload.(chatsync.Polled); ok && p.Fetched > p.Applied {
			c.duplicates.Add(float64(p.Fetched - p.Applied))
		}
	case bus.SyncDuplicate:
		c.duplicates.Inc()
	case bus.SendAccepted:
		c.sends.WithLabelValues("accepted").Inc()
	case bus.SendFailed:
		c.sends.WithLabelValues("failed").Inc()
	case bus.ConnReconnectScheduled:
		c.reconnects.Inc()
	case bus.ConnStateChanged:
		if p, ok := evt.Payload.(status.StatusChange); ok {
			c.setState(p.To)
		}
	case bus.SyncFatal:
		c.fatal.Inc()
	}
}

func (c *Collector) setState(current status.State) {
	for _, st := range connStates {
		v := 0.0
		if st == current {
			v = 1
		}
		c.connState.WithLabelValues(string(st)).Set(v)
	}
}
