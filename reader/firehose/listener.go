package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "signalflow/config"
	"signalflow/internal/bus"
	"signalflow/internal/endpoint"
	"signalflow/internal/feedhealth"
	"signalflow/logger"
	"signalflow/models"
)

// Listener is the primary ingestion path. It holds a websocket to one
// relay endpoint from the pool, decodes packets, routes each onto the
// bus topic named by its type field and feeds the health monitor. A
// dropped connection reports a failure to the pool and redials,
// usually landing on a different endpoint.
type Listener struct {
	cfg     appconfig.FirehoseConfig
	bus     *bus.Bus
	pool    *endpoint.Pool
	health  *feedhealth.Monitor
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func NewListener(cfg appconfig.FirehoseConfig, b *bus.Bus, pool *endpoint.Pool, health *feedhealth.Monitor) *Listener {
	return &Listener{
		cfg:    cfg,
		bus:    b,
		pool:   pool,
		health: health,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start launches the stream loop. It reconnects until the context is
// cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("firehose listener already running")
	}
	l.running = true
	l.ctx = ctx
	l.mu.Unlock()

	l.log.WithComponent("firehose_listener").Info("starting firehose listener")
	l.wg.Add(1)
	go l.stream()
	return nil
}

// Stop waits for the stream loop to exit after context cancellation.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	l.wg.Wait()
	l.log.WithComponent("firehose_listener").Info("firehose listener stopped")
}

func (l *Listener) stream() {
	defer l.wg.Done()
	log := l.log.WithComponent("firehose_listener").WithFields(logger.Fields{"worker": "stream"})

	for {
		if l.ctx.Err() != nil {
			return
		}

		wsURL := l.pool.GetRandom()
		if wsURL == "" {
			log.Warn("no websocket endpoint available, waiting")
			if !l.sleep(l.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"endpoint": wsURL}).Warn("failed to connect websocket, retrying")
			logger.IncrementRetryCount()
			l.pool.ReportFailure(wsURL)
			if !l.sleep(l.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		log.WithFields(logger.Fields{"endpoint": wsURL}).Info("firehose connected")

		pingTicker := time.NewTicker(l.cfg.PingInterval)
		done := make(chan struct{})
		go func() {
			defer pingTicker.Stop()
			for {
				select {
				case <-done:
					return
				case <-l.ctx.Done():
					// unblocks a ReadMessage stuck on a silent connection
					// so Stop never waits out a read deadline
					conn.Close()
					return
				case <-pingTicker.C:
					conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}()

		for {
			if l.cfg.ReadTimeout > 0 {
				conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
			}
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if l.ctx.Err() != nil {
					return
				}
				log.WithError(err).WithFields(logger.Fields{"endpoint": wsURL}).Warn("websocket read error, reconnecting")
				l.pool.ReportFailure(wsURL)
				break
			}
			l.handlePacket(msg)
		}

		if !l.sleep(time.Second) {
			return
		}
	}
}

// handlePacket decodes one packet and publishes it onto the topic
// named by its type field. Malformed packets are dropped and counted
// as decode errors; they still count as transport activity so a noisy
// feed is not mistaken for a stalled one.
func (l *Listener) handlePacket(msg []byte) {
	start := time.Now()
	logger.IncrementPacketRead(len(msg))

	var payload map[string]interface{}
	if err := json.Unmarshal(msg, &payload); err != nil {
		l.health.RecordPacket(time.Since(start))
		l.health.RecordError()
		l.log.WithComponent("firehose_listener").WithError(err).Debug("failed to decode packet")
		return
	}
	l.health.RecordPacket(time.Since(start))

	kind := models.Event{Payload: payload}.Kind()
	if kind == "" {
		l.health.RecordError()
		l.log.WithComponent("firehose_listener").Debug("packet missing type field")
		return
	}

	l.bus.Publish(kind, payload)
	l.health.RecordEventHeartbeat()
}

func (l *Listener) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-l.ctx.Done():
		return false
	}
}
