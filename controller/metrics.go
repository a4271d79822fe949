// Copyright 2025 The ripcd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ripcd/ripcd/common"
)

var (
	uptime = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: common.App,
		Name:      "uptime_seconds",
		Help:      "Seconds since the controller started.",
	}, func() float64 { return float64(time.Now().Unix() - common.Started()) })

	buildInfoGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: common.App,
		Name:      "build_info",
		Help:      "Build metadata; always 1, labels carry the version/hash/time.",
	}, []string{"version", "git_hash", "build_time"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: common.App,
		Name:      "sessions_active",
		Help:      "Sessions currently tracked by the controller.",
	})

	sessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "sessions_accepted_total",
		Help:      "Sessions accepted since start, regardless of current state.",
	})
)

func recordBuildInfo(bi common.BuildInfo) {
	buildInfoGauge.WithLabelValues(bi.Version, bi.GitHash, bi.Time).Set(1)
}
