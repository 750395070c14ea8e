package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"backpack-grid/internal/config"
	"backpack-grid/internal/exchange/backpack"
)

const defaultOutDir = "data/backpack"

type tickLine struct {
	Time   string `json:"time"`
	Symbol string `json:"symbol"`
	Last   string `json:"last"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Volume string `json:"volume"`
	Change string `json:"change"`
}

// dateWriter appends JSONL records to one file per UTC date, rotating at
// midnight.
type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	_, err := w.currentFile.Write(append(line, '\n'))
	return err
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

func main() {
	var (
		wsURL        string
		symbol       string
		outDir       string
		keepaliveSec int
	)
	flag.StringVar(&wsURL, "ws-url", "wss://ws.backpack.exchange", "exchange websocket url")
	flag.StringVar(&symbol, "symbol", "SOL_USDC", "symbol, e.g. SOL_USDC")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
	flag.IntVar(&keepaliveSec, "keepalive-sec", 30, "ping keepalive seconds")
	flag.Parse()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	wsURL = strings.TrimRight(strings.TrimSpace(wsURL), "/")
	if symbol == "" || wsURL == "" {
		fatal("ws-url and symbol are required")
	}

	targetDir := filepath.Join(outDir, symbol)
	writer, err := newDateWriter(targetDir)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if closeErr := writer.close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close writer failed: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Public stream only; the signing secret is unused but the client
	// constructor requires a well-formed one.
	client, err := backpack.New(config.ExchangeConfig{
		APIKey:    "apicheck",
		APISecret: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		WSBaseURL: wsURL,
	})
	if err != nil {
		fatal(err.Error())
	}

	fmt.Printf("streaming symbol=%s ws=%s out=%s\n", symbol, wsURL, targetDir)
	total := 0
	for {
		n, err := streamOnce(ctx, client, symbol, time.Duration(keepaliveSec)*time.Second, writer)
		total += n
		if err == nil || errors.Is(err, context.Canceled) {
			break
		}
		fmt.Fprintf(os.Stderr, "stream error, reconnecting: %v\n", err)
		select {
		case <-ctx.Done():
			fmt.Printf("done: records=%d output=%s\n", total, targetDir)
			return
		case <-time.After(3 * time.Second):
		}
	}
	fmt.Printf("done: records=%d output=%s\n", total, targetDir)
}

func streamOnce(ctx context.Context, client *backpack.Client, symbol string, keepalive time.Duration, writer *dateWriter) (int, error) {
	stream, err := client.NewTickerStream(ctx, symbol, keepalive)
	if err != nil {
		return 0, err
	}
	tickers, errCh := stream.Tickers(ctx)
	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return count, err
			}
		case ticker, ok := <-tickers:
			if !ok {
				return count, errors.New("ticker stream closed")
			}
			now := time.Now().UTC()
			line := tickLine{
				Time:   now.Format(time.RFC3339),
				Symbol: ticker.Symbol,
				Last:   ticker.Last.String(),
				High:   ticker.High.String(),
				Low:    ticker.Low.String(),
				Volume: ticker.Volume.String(),
				Change: ticker.Change.String(),
			}
			encoded, err := json.Marshal(line)
			if err != nil {
				return count, err
			}
			if err := writer.write(now.Format("2006-01-02"), encoded); err != nil {
				return count, err
			}
			count++
		}
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
