// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package triage

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triageflow_runs_total",
			Help: "Total number of triage runs by terminal status",
		},
		[]string{"status"},
	)
	promRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triageflow_run_duration_milliseconds",
			Help:    "End-to-end triage run duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)
	promToolAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triageflow_tool_attempts_total",
			Help: "Total number of tool execution attempts",
		},
		[]string{"tool", "status"},
	)
	promToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triageflow_tool_attempt_duration_milliseconds",
			Help:    "Tool attempt duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000},
		},
		[]string{"tool"},
	)
	promFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triageflow_fallbacks_total",
			Help: "Total number of fallback substitutions by step",
		},
		[]string{"step"},
	)
	promBudgetStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triageflow_budget_stops_total",
			Help: "Total number of runs stopped early by the flow budget",
		},
	)
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triageflow_rate_limited_requests_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(promRunsTotal)
	prometheus.MustRegister(promRunDuration)
	prometheus.MustRegister(promToolAttempts)
	prometheus.MustRegister(promToolDuration)
	prometheus.MustRegister(promFallbacks)
	prometheus.MustRegister(promBudgetStops)
	prometheus.MustRegister(promRateLimited)
}

// MetricsCollector aggregates run and tool metrics for the JSON metrics
// endpoint and mirrors them into Prometheus.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics *Metrics
}

// Metrics is the JSON shape served by the /metrics endpoint
type Metrics struct {
	Runs              *RunMetrics             `json:"runs"`
	Tools             map[string]*ToolMetrics `json:"tools"`
	CollectionStarted time.Time               `json:"collection_started"`
}

// RunMetrics tracks run-level counters and latency percentiles
type RunMetrics struct {
	Total        int64            `json:"total"`
	Completed    int64            `json:"completed"`
	Failed       int64            `json:"failed"`
	FallbackRuns int64            `json:"fallback_runs"`
	BudgetStops  int64            `json:"budget_stops"`
	ByRisk       map[string]int64 `json:"by_risk"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	P95LatencyMs float64          `json:"p95_latency_ms"`
	latencies    []time.Duration
}

// ToolMetrics tracks per-tool attempt outcomes
type ToolMetrics struct {
	Attempts      int64   `json:"attempts"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	Fallbacks     int64   `json:"fallbacks"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	totalDuration time.Duration
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: &Metrics{
			Runs: &RunMetrics{
				ByRisk:    make(map[string]int64),
				latencies: make([]time.Duration, 0, 1000),
			},
			Tools:             make(map[string]*ToolMetrics),
			CollectionStarted: time.Now(),
		},
	}
}

// RecordToolAttempt records one tool execution attempt. Shaped to plug
// directly into resilience.WithObserver.
func (c *MetricsCollector) RecordToolAttempt(tool string, attempt int, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	promToolAttempts.WithLabelValues(tool, status).Inc()
	promToolDuration.WithLabelValues(tool).Observe(float64(duration.Milliseconds()))

	c.mu.Lock()
	defer c.mu.Unlock()

	tm := c.toolMetrics(tool)
	tm.Attempts++
	if err != nil {
		tm.Failures++
	} else {
		tm.Successes++
	}
	tm.totalDuration += duration
	tm.AvgDurationMs = float64(tm.totalDuration.Milliseconds()) / float64(tm.Attempts)
}

// RecordFallback records a fallback substitution for a step
func (c *MetricsCollector) RecordFallback(step string) {
	promFallbacks.WithLabelValues(step).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolMetrics(step).Fallbacks++
}

// RecordBudgetStop records a run stopped early by the flow budget
func (c *MetricsCollector) RecordBudgetStop() {
	promBudgetStops.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Runs.BudgetStops++
}

// RecordRunCompleted records a run that reached a decision
func (c *MetricsCollector) RecordRunCompleted(risk RiskLevel, fallbackUsed bool, latency time.Duration) {
	promRunsTotal.WithLabelValues("completed").Inc()
	promRunDuration.Observe(float64(latency.Milliseconds()))

	c.mu.Lock()
	defer c.mu.Unlock()

	runs := c.metrics.Runs
	runs.Total++
	runs.Completed++
	runs.ByRisk[string(risk)]++
	if fallbackUsed {
		runs.FallbackRuns++
	}

	runs.latencies = append(runs.latencies, latency)
	if len(runs.latencies) > 1000 {
		runs.latencies = runs.latencies[len(runs.latencies)-1000:]
	}
	c.recomputeLatency()
}

// RecordRunFailed records a run-level failure (alert missing, run record
// unpersistable).
func (c *MetricsCollector) RecordRunFailed() {
	promRunsTotal.WithLabelValues("failed").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Runs.Total++
	c.metrics.Runs.Failed++
}

// RecordRateLimited records a request rejected at the entry point
func (c *MetricsCollector) RecordRateLimited() {
	promRateLimited.Inc()
}

// Snapshot returns a copy of the aggregated metrics for the JSON endpoint
func (c *MetricsCollector) Snapshot() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	runs := *c.metrics.Runs
	runs.ByRisk = make(map[string]int64, len(c.metrics.Runs.ByRisk))
	for k, v := range c.metrics.Runs.ByRisk {
		runs.ByRisk[k] = v
	}
	runs.latencies = nil

	tools := make(map[string]*ToolMetrics, len(c.metrics.Tools))
	for name, tm := range c.metrics.Tools {
		copied := *tm
		tools[name] = &copied
	}

	return Metrics{
		Runs:              &runs,
		Tools:             tools,
		CollectionStarted: c.metrics.CollectionStarted,
	}
}

// toolMetrics must be called with c.mu held
func (c *MetricsCollector) toolMetrics(tool string) *ToolMetrics {
	tm, ok := c.metrics.Tools[tool]
	if !ok {
		tm = &ToolMetrics{}
		c.metrics.Tools[tool] = tm
	}
	return tm
}

// recomputeLatency must be called with c.mu held
func (c *MetricsCollector) recomputeLatency() {
	runs := c.metrics.Runs
	if len(runs.latencies) == 0 {
		return
	}

	var total time.Duration
	sorted := make([]time.Duration, len(runs.latencies))
	copy(sorted, runs.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, d := range sorted {
		total += d
	}

	runs.AvgLatencyMs = float64(total.Milliseconds()) / float64(len(sorted))
	runs.P95LatencyMs = float64(sorted[int(float64(len(sorted))*0.95)].Milliseconds())
}
