package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/carry/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	markPriceStream = "!markPrice@arr@1s"
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
)

type MarkPriceHandler func(prices []models.MarkPrice)

// MarkPriceStream follows the all-market mark price feed, which carries the
// live funding rate of every perpetual once per second.
type MarkPriceStream struct {
	url            string
	reconnectDelay time.Duration
	maxReconnects  int
	logger         *logrus.Logger
}

func NewMarkPriceStream(baseURL string, reconnectDelay time.Duration, maxReconnects int, logger *logrus.Logger) *MarkPriceStream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &MarkPriceStream{
		url:            strings.TrimSuffix(baseURL, "/") + "/" + markPriceStream,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
		logger:         logger,
	}
}

// Run delivers every batch to handler until ctx is done or the stream has
// failed more than maxReconnects times in a row.
func (s *MarkPriceStream) Run(ctx context.Context, handler MarkPriceHandler) error {
	failures := 0
	for {
		received, err := s.runOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			failures = 0
		}
		failures++
		if failures > s.maxReconnects {
			return fmt.Errorf("mark price stream: giving up after %d attempts: %w", failures, err)
		}

		s.logger.WithError(err).WithField("attempt", failures).Warn("Mark price stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *MarkPriceStream) runOnce(ctx context.Context, handler MarkPriceHandler) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	received := false
	for {
		var events []markPriceEvent
		if err := conn.ReadJSON(&events); err != nil {
			return received, err
		}
		received = true

		prices := make([]models.MarkPrice, 0, len(events))
		for _, ev := range events {
			mp, err := ev.toModel()
			if err != nil {
				s.logger.WithError(err).WithField("symbol", ev.Symbol).Debug("Dropping malformed mark price")
				continue
			}
			prices = append(prices, mp)
		}
		handler(prices)
	}
}

func (s *MarkPriceStream) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.WithError(err).Error("Failed to send ping")
				return
			}
		}
	}
}
