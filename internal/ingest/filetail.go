package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"vitalwatch/internal/config"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- Event, logger *zap.Logger, observer Observer) {
	logger = orNop(logger)
	if observer == nil {
		observer = nopObserver{}
	}
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		logger.Info("file tail ingest disabled")
		return
	}
	for _, path := range current.Files {
		logger.Info("file tail ingest enabled", zap.String("path", path), zap.Bool("start_at_end", current.StartAtEnd))
		lines := &lineHandler{source: SourceFileTail, parser: NewParser(), out: out, logger: logger, observer: observer}
		go tailFile(ctx, path, current.StartAtEnd, lines)
	}
}

// tailFile follows path like tail -F: it reopens the file when it is
// truncated or cannot be read, and waits for it to appear.
func tailFile(ctx context.Context, path string, startAtEnd bool, lines *lineHandler) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				lines.logger.Warn("tail open failed", zap.String("path", path), zap.Error(err))
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// Only the first open skips history; a rotated file is read whole.
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					partial += chunk
					offset += int64(len(chunk))
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				lines.logger.Warn("tail read error", zap.String("path", path), zap.Error(err))
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(chunk))
			lines.handle(ctx, partial+chunk)
			partial = ""
		}
	}
}
