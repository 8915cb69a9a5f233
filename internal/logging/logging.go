package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/status-im/status-signer-go/pkg/config"
)

// Build picks the logger for cfg: nop when disabled, JSON to cfg.File when set, colored console otherwise.
func Build(cfg config.LogConfig) (*zap.Logger, error) {
	switch {
	case !cfg.Enabled:
		return zap.NewNop(), nil
	case cfg.File != "":
		return BuildProductionLogger(cfg.File)
	default:
		return BuildDevelopmentLogger()
	}
}

func BuildDevelopmentLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config.Build()
}

func BuildProductionLogger(outputFilePath string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{outputFilePath}
	cfg.ErrorOutputPaths = []string{outputFilePath}
	return cfg.Build()
}
