package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
)

const (
	defaultPushInterval = 30 * time.Second
	defaultPushJob      = "mqtt-extractor"
	pushTimeout         = 10 * time.Second
)

// Pushers periodically push a registry to Prometheus push gateways.
type Pushers struct {
	gateways []gateway
	logger   Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type gateway struct {
	url      string
	interval time.Duration
	pusher   *push.Pusher
}

// StartPushers begins pushing gatherer to every configured gateway.
func StartPushers(cfgs []config.PushGatewayConfig, gatherer prometheus.Gatherer, logger Logger) *Pushers {
	p := &Pushers{
		logger: logger,
		done:   make(chan struct{}),
	}

	for _, cfg := range cfgs {
		job := cfg.Job
		if job == "" {
			job = defaultPushJob
		}
		interval := cfg.GetInterval()
		if interval <= 0 {
			interval = defaultPushInterval
		}
		gw := gateway{
			url:      cfg.URL,
			interval: interval,
			pusher:   push.New(cfg.URL, job).Gatherer(gatherer),
		}
		p.gateways = append(p.gateways, gw)

		p.wg.Add(1)
		go p.pushLoop(gw)
	}
	return p
}

func (p *Pushers) pushLoop(gw gateway) {
	defer p.wg.Done()

	ticker := time.NewTicker(gw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pushOnce(gw)
		case <-p.done:
			return
		}
	}
}

func (p *Pushers) pushOnce(gw gateway) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := gw.pusher.PushContext(ctx); err != nil {
		p.logger.Warn("push to gateway failed", "url", gw.url, "error", err)
	}
}

// Stop halts the push loops and pushes the final values once.
func (p *Pushers) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		for _, gw := range p.gateways {
			p.pushOnce(gw)
		}
	})
}
