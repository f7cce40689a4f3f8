package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	appconfig "signalflow/config"
	"signalflow/internal/bus"
	"signalflow/internal/endpoint"
	"signalflow/internal/feedhealth"
	"signalflow/logger"
	"signalflow/models"
)

// Poller is the backup ingestion path the watchdog starts when the
// firehose stalls. It polls RPC endpoints from the pool for recent
// signals and publishes them onto the same bus topics the firehose
// uses, so downstream consumers never notice which path is live.
// Done is closed once the polling loop has fully stopped.
type Poller struct {
	cfg     appconfig.FallbackConfig
	bus     *bus.Bus
	pool    *endpoint.Pool
	health  *feedhealth.Monitor
	limiter *rate.Limiter
	client  *http.Client
	done    chan struct{}
	log     *logger.Log
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result []map[string]interface{} `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Start launches the polling loop and returns the running task.
func Start(ctx context.Context, cfg appconfig.FallbackConfig, b *bus.Bus, pool *endpoint.Pool, health *feedhealth.Monitor) (*Poller, error) {
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("fallback requests_per_second must be positive")
	}
	p := &Poller{
		cfg:     cfg,
		bus:     b,
		pool:    pool,
		health:  health,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		done:    make(chan struct{}),
		log:     logger.GetLogger(),
	}
	p.log.WithComponent("fallback_poller").WithFields(logger.Fields{
		"poll_interval": cfg.PollInterval.String(),
		"rps":           cfg.RequestsPerSecond,
	}).Info("fallback poller started")
	go p.loop(ctx)
	return p, nil
}

// Done reports loop completion after the context is cancelled.
func (p *Poller) Done() <-chan struct{} { return p.done }

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	defer p.log.WithComponent("fallback_poller").Info("fallback poller stopped")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	url := p.pool.GetRandom()
	if url == "" {
		p.log.WithComponent("fallback_poller").Warn("no rpc endpoint available")
		return
	}

	start := time.Now()
	events, err := p.fetch(ctx, url)
	if err != nil {
		p.pool.ReportFailure(url)
		p.health.RecordError()
		p.log.WithComponent("fallback_poller").WithError(err).WithFields(logger.Fields{"endpoint": url}).Warn("poll failed")
		return
	}
	p.health.RecordPacket(time.Since(start))

	for _, payload := range events {
		kind := models.Event{Payload: payload}.Kind()
		if kind == "" {
			p.health.RecordError()
			continue
		}
		p.bus.Publish(kind, payload)
		p.health.RecordEventHeartbeat()
	}
}

func (p *Poller) fetch(ctx context.Context, url string) ([]map[string]interface{}, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getRecentSignals",
		Params:  map[string]interface{}{"limit": 100},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}
