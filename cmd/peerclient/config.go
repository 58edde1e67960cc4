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
package main

import (
	"go.uber.org/zap"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/dispatch"
	"github.com/nprezin/peerwire/metrics"
	"github.com/nprezin/peerwire/utils/backoff"
)

// Config is the top-level configuration for the peerclient binary, loaded
// via utils/configutil from a yaml file (optionally extending another).
type Config struct {
	ZapLogging    zap.Config         `yaml:"zap_logging"`
	Metrics       metrics.Config     `yaml:"metrics"`
	Dispatch      dispatch.Config    `yaml:"dispatch"`
	PeerIDFactory core.PeerIDFactory `yaml:"peer_id_factory"`
	Announce      backoff.Config     `yaml:"announce_backoff"`
}
