// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the scheduler, waits for dispatched sweeps and then
// disconnects MongoDB.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if svc := deps.Services; svc != nil {
		if svc.Scheduler != nil {
			svc.Scheduler.Stop()
		}
		waitSweeps(ctx, svc, logger)
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// waitSweeps blocks until background sweeps finish or ctx is done.
func waitSweeps(ctx context.Context, svc *Services, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		if svc.Refresher != nil {
			svc.Refresher.Wait()
		}
		if svc.KeepAlive != nil {
			svc.KeepAlive.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown deadline reached with sweeps still running")
	}
}
