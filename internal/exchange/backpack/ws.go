package backpack

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"backpack-grid/internal/core"
)

// TickerStream is a public websocket subscription to one symbol's ticker
// channel. No authentication is involved.
type TickerStream struct {
	conn      *websocket.Conn
	symbol    string
	keepalive time.Duration
}

type wsSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type wsStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent uses the venue's short websocket field names: s symbol,
// c last price, o open, h high, l low, v base volume, E event time (us).
type tickerEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

func (c *Client) NewTickerStream(ctx context.Context, symbol string, keepalive time.Duration) (*TickerStream, error) {
	if c.wsBaseURL == "" {
		return nil, errors.New("ws base url required")
	}
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsBaseURL, nil)
	if err != nil {
		return nil, err
	}
	sub := wsSubscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{"ticker." + symbol},
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &TickerStream{conn: conn, symbol: symbol, keepalive: keepalive}, nil
}

// Tickers streams parsed ticker updates until the context is cancelled or
// the connection drops. Malformed frames are skipped.
func (s *TickerStream) Tickers(ctx context.Context) (<-chan core.Ticker, <-chan error) {
	tickers := make(chan core.Ticker)
	errCh := make(chan error, 4)
	done := make(chan struct{})

	reportErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}

	readTimeout := 45 * time.Second
	if s.keepalive > 0 {
		readTimeout = s.keepalive * 3
		if readTimeout < 30*time.Second {
			readTimeout = 30 * time.Second
		}
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		defer close(tickers)
		defer s.conn.Close()

		for {
			_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				reportErr(err)
				return
			}
			if len(data) == 0 {
				continue
			}
			var envelope wsStreamEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil {
				continue
			}
			if envelope.Stream == "" || len(envelope.Data) == 0 {
				continue
			}
			var event tickerEvent
			if err := json.Unmarshal(envelope.Data, &event); err != nil {
				continue
			}
			if event.EventType != "ticker" {
				continue
			}
			if event.Symbol != s.symbol {
				continue
			}
			last, err := decimal.NewFromString(event.Close)
			if err != nil || last.Cmp(decimal.Zero) <= 0 {
				continue
			}
			high, _ := decimal.NewFromString(event.High)
			low, _ := decimal.NewFromString(event.Low)
			volume, _ := decimal.NewFromString(event.Volume)
			open, _ := decimal.NewFromString(event.Open)
			ticker := core.Ticker{
				Symbol: event.Symbol,
				Last:   last,
				High:   high,
				Low:    low,
				Volume: volume,
				Change: last.Sub(open),
			}
			select {
			case tickers <- ticker:
			case <-ctx.Done():
				return
			}
		}
	}()

	if s.keepalive > 0 {
		go func() {
			ticker := time.NewTicker(s.keepalive)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						reportErr(err)
						_ = s.conn.Close()
						return
					}
				case <-done:
					return
				case <-ctx.Done():
					_ = s.conn.Close()
					return
				}
			}
		}()
	}

	return tickers, errCh
}
