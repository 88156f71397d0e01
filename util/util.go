/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package util holds the process-wide logger.
package util

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the shared logger.  It is a no-op until InitLogging is
// called, so libraries can log unconditionally.
var Logger = zap.NewNop().Sugar()

// Logging is a clumsy switch that affects what Logf does.
//
// If Logging is true, then Logf logs at debug level.
var Logging = false

// Logf is a silly utility function that logs at debug level if
// Logging is true.
func Logf(format string, args ...interface{}) {
	if !Logging {
		return
	}
	Logger.Debugf(format, args...)
}

// InitLogging replaces Logger.
//
// With json, output is zap's production JSON encoding on stderr.
// Otherwise it's a console encoding meant for people.
func InitLogging(json, debug bool) error {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
		Logging = true
	}

	var (
		l   *zap.Logger
		err error
	)
	if json {
		conf := zap.NewProductionConfig()
		conf.Level = level
		l, err = conf.Build()
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		l = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}
	if err != nil {
		return err
	}

	Logger = l.Sugar()
	return nil
}

// Or returns the given logger or, if that's nil, Logger.
func Or(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Logger
	}
	return l
}
