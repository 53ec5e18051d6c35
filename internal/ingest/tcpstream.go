package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"vitalwatch/internal/config"
)

// StartTCPStream listens for newline-delimited readings. It returns the
// bound listener so callers can learn the port when configured with :0.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- Event, logger *zap.Logger, observer Observer) (net.Listener, error) {
	logger = orNop(logger)
	if observer == nil {
		observer = nopObserver{}
	}
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		logger.Info("tcp stream ingest disabled")
		return nil, nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		return nil, err
	}
	logger.Info("tcp stream ingest enabled", zap.String("addr", ln.Addr().String()))
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warn("tcp stream accept error", zap.Error(err))
				continue
			}
			// Each connection gets its own parser so CSV headers stay per stream.
			lines := &lineHandler{source: SourceTCPStream, parser: NewParser(), out: out, logger: logger, observer: observer}
			go handleTCPStreamConn(ctx, conn, lines)
		}
	}()
	return ln, nil
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, lines *lineHandler) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		lines.handle(ctx, scanner.Text())
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		lines.logger.Warn("tcp stream scanner error", zap.Error(err))
	}
}
