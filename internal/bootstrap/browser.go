package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/browser"
)

func init() {
	// Вывод xdg-open и аналогов не должен смешиваться с JSON-логами.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// Opener открывает url во внешнем браузере.
type Opener func(ctx context.Context, url string) error

// SystemOpener открывает url штатным для ОС способом.
func SystemOpener(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}

// OpenBrowserAfter ждёт delay и открывает url. Ошибка только логируется:
// сервер продолжает работать без браузера.
func OpenBrowserAfter(ctx context.Context, open Opener, url string, delay time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := open(ctx, url); err != nil {
		logger.Warn("failed to open browser", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	logger.Info("browser opened", slog.String("url", url))
}
