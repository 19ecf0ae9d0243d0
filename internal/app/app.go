package app

import (
	"context"

	"github.com/fxnlabs/devinfo/internal/config"
	"github.com/fxnlabs/devinfo/internal/gpu"
	"github.com/fxnlabs/devinfo/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires configuration, logging and the introspector. It expects a
// *config.Config and a gpu.Driver to be provided by the caller.
var Module = fx.Module("devinfo",
	fx.Provide(
		NewLogger,
		NewIncludeResolver,
		NewIntrospector,
	),
	fx.Invoke(registerDefault),
)

// RuntimeDriver provides the CUDA runtime backed gpu.Driver
var RuntimeDriver = fx.Provide(NewRuntimeDriver)

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Sync fails on non-syncable outputs such as a terminal.
			_ = log.Sync()
			return nil
		},
	})
	return log.Named("devinfo"), nil
}

func NewRuntimeDriver(cfg *config.Config, log *zap.Logger) gpu.Driver {
	return gpu.NewRuntimeDriver(cfg.Runtime, log.Named("driver"))
}

func NewIncludeResolver(cfg *config.Config, log *zap.Logger) *gpu.IncludeResolver {
	return gpu.NewIncludeResolverFromConfig(cfg.Toolkit, gpu.WithResolverLogger(log.Named("toolkit")))
}

func NewIntrospector(driver gpu.Driver, resolver *gpu.IncludeResolver, log *zap.Logger) *gpu.Introspector {
	return gpu.NewIntrospector(driver,
		gpu.WithLogger(log.Named("introspector")),
		gpu.WithIncludeResolver(resolver),
	)
}

// registerDefault makes the graph's introspector the process-wide one
func registerDefault(lc fx.Lifecycle, in *gpu.Introspector) {
	var prev *gpu.Introspector
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			prev = gpu.SetDefault(in)
			return nil
		},
		OnStop: func(context.Context) error {
			gpu.SetDefault(prev)
			return nil
		},
	})
}
