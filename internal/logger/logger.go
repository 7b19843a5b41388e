package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds process log configuration. An empty File logs to stdout only.
type Config struct {
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMB"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Setup points the standard logger at stdout, tee'd into a rotating file
// when cfg.File is set. The returned closer releases the file.
func Setup(cfg Config) (io.Closer, error) {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := NewRotator(cfg)
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.Printf("[logger] writing to %s (max %d MB x %d)", cfg.File, rotator.MaxSize, rotator.MaxBackups)
	return rotator, nil
}

// NewRotator builds the lumberjack writer for cfg, filling in defaults.
func NewRotator(cfg Config) *lumberjack.Logger {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
