// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It builds
// the stores and sweep workers and starts the in-process scheduler.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Services == nil {
		return errors.New("startup: DBDeps.Services not allocated")
	}
	svc, err := NewServices(deps.MongoDatabase, appCfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return err
	}
	*deps.Services = *svc

	if svc.Scheduler != nil {
		svc.Scheduler.Start()
	} else {
		logger.Info("in-process scheduler disabled; sweeps run only when /scheduled is called")
	}
	return nil
}
