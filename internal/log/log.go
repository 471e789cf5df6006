// Copyright 2021 The Sigstore Authors.
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

// Package log provides the process-wide structured logger used across the
// signing core. Initialization happens once, explicitly, never via an
// implicit package-level init() — callers that never call Init get a sane
// production default instead of nil-pointer surprises.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	logger *zap.SugaredLogger
)

// Init installs the process-wide logger. Safe to call more than once;
// later calls replace the logger. If l is nil, a production zap config is
// used.
func Init(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l, _ = zap.NewProduction()
	}
	logger = l.Sugar()
}

// Logger returns the process-wide logger, lazily initializing it with
// production defaults if Init was never called.
func Logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		l, _ := zap.NewProduction()
		logger = l.Sugar()
	}
	return logger
}
