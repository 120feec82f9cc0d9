package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"practo-harvester/internal/observability"
)

// GracefulShutdown возвращает context, который отменяется по SIGINT/SIGTERM
// или по истечении runTimeout (0: без ограничения). Отмена только
// останавливает новые загрузки: начатые доводятся до сохранения.
func GracefulShutdown(parent context.Context, logger *observability.Logger, runTimeout time.Duration) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if runTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, runTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	// Канал для сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received, finishing in-flight work", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
