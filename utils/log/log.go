// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log wraps a single process-wide zap.SugaredLogger behind package-
// level functions, so any package can log without threading a logger
// through every constructor. ConfigureLogger/SetGlobalLogger are called
// once, at the composition root.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	_global = NewNopLogger()
)

// ConfigureLogger builds a *zap.Logger from config, installs it as the
// global logger, and returns it so the caller may also use it directly
// (e.g. to pass a *zap.SugaredLogger into a constructor).
func ConfigureLogger(config zap.Config) *zap.Logger {
	logger, err := config.Build()
	if err != nil {
		Fatalf("Failed to build zap logger: %s", err)
	}
	SetGlobalLogger(logger.Sugar())
	return logger
}

// NewNopLogger returns a logger that discards everything, used as the
// default before ConfigureLogger is called (e.g. in tests).
func NewNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// SetGlobalLogger installs logger as the target of every package-level
// logging call.
func SetGlobalLogger(logger *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	_global = logger
}

func global() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return _global
}

// With returns a logger with keysAndValues added as structured fields to
// every subsequent call.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return global().With(keysAndValues...)
}

// Debug logs args at debug level.
func Debug(args ...interface{}) { global().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(template string, args ...interface{}) { global().Debugf(template, args...) }

// Info logs args at info level.
func Info(args ...interface{}) { global().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(template string, args ...interface{}) { global().Infof(template, args...) }

// Warn logs args at warn level.
func Warn(args ...interface{}) { global().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(template string, args ...interface{}) { global().Warnf(template, args...) }

// Error logs args at error level.
func Error(args ...interface{}) { global().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(template string, args ...interface{}) { global().Errorf(template, args...) }

// Fatal logs args at fatal level, then calls os.Exit(1).
func Fatal(args ...interface{}) { global().Fatal(args...) }

// Fatalf logs a formatted message at fatal level, then calls os.Exit(1).
func Fatalf(template string, args ...interface{}) { global().Fatalf(template, args...) }

// Sync flushes any buffered log entries.
func Sync() error { return global().Sync() }
