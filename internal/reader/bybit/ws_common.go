package bybit

import (
	"context"
	"fmt"
	"time"

	"cascadeflow/logger"
	"github.com/gorilla/websocket"
)

const (
	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 60 * time.Second
	defaultKeepAlive      = 20 * time.Second
	readDeadline          = 35 * time.Second
)

// nextReconnectDelay doubles the delay up to the cap.
func nextReconnectDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > maxReconnectDelay {
		return maxReconnectDelay
	}
	return next
}

func runBybitWebSocket(ctx context.Context, url string, topics []string, reconnectDelay time.Duration, log *logger.Entry, handler func([]byte) error) {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	delay := reconnectDelay
	dialer := websocket.DefaultDialer
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithError(err).WithField("url", url).Warn("failed to connect to bybit websocket")
			if waitForReconnect(ctx, delay) {
				return
			}
			delay = nextReconnectDelay(delay)
			continue
		}

		if len(topics) > 0 {
			if err := subscribeBybit(conn, topics); err != nil {
				log.WithError(err).WithField("url", url).Warn("failed to subscribe to bybit topics")
				conn.Close()
				if waitForReconnect(ctx, delay) {
					return
				}
				delay = nextReconnectDelay(delay)
				continue
			}
		}
		delay = reconnectDelay

		conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(readDeadline))
			return nil
		})

		pingCancel := startPingLoop(ctx, conn, defaultKeepAlive, log)

		if err := readMessages(ctx, conn, handler); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("url", url).Warn("bybit websocket read loop ended")
		}

		if pingCancel != nil {
			pingCancel()
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if waitForReconnect(ctx, delay) {
			return
		}
		delay = nextReconnectDelay(delay)
	}
}

func subscribeBybit(conn *websocket.Conn, topics []string) error {
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	return conn.WriteJSON(req)
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler func([]byte) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			_ = handler(msg)
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
