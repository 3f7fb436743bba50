package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	log  Logger
	once sync.Once
)

// Init initializes the shared file logger. Logs land in ~/.carbo/carbo.log so
// they never interleave with the terminal UI.
func Init() {
	once.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			panic("Failed to get user home directory: " + err.Error())
		}

		carboDir := filepath.Join(homeDir, ".carbo")
		err = os.MkdirAll(carboDir, 0755)
		if err != nil {
			panic("Failed to create .carbo directory: " + err.Error())
		}

		logFile, err := os.OpenFile(filepath.Join(carboDir, "carbo.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			panic("Failed to open log file: " + err.Error())
		}

		zl := zerolog.New(logFile).With().Timestamp().Logger()
		log = &ZerologAdapter{logger: &zl}
	})
}

// Get returns the shared logger instance. Call Init first; Get falls back to
// the null logger when Init has not run.
func Get() Logger {
	if log == nil {
		return NewNullLogger()
	}
	return log
}

// ZerologAdapter adapts zerolog.Logger to our Logger interface
type ZerologAdapter struct {
	logger *zerolog.Logger
}

func (z *ZerologAdapter) Debug(msg string) { z.logger.Debug().Msg(msg) }
func (z *ZerologAdapter) Info(msg string)  { z.logger.Info().Msg(msg) }
func (z *ZerologAdapter) Warn(msg string)  { z.logger.Warn().Msg(msg) }
func (z *ZerologAdapter) Error(msg string) { z.logger.Error().Msg(msg) }
func (z *ZerologAdapter) Fatal(msg string) { z.logger.Fatal().Msg(msg) }
func (z *ZerologAdapter) WithField(key string, value interface{}) Logger {
	newLogger := z.logger.With().Interface(key, value).Logger()
	return &ZerologAdapter{logger: &newLogger}
}
