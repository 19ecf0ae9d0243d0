package logger

import (
	"github.com/fxnlabs/devinfo/internal/config"
	"go.uber.org/zap"
)

func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Verbosity)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = level
	if cfg.Encoding != "" {
		zapConfig.Encoding = cfg.Encoding
	}
	if cfg.Encoding == "console" {
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zapConfig.Build()
}
