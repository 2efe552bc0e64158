// Copyright 2025 TriageFlow
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

package triage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PlanFile is the YAML shape of an external plan configuration. All fields
// are optional; absent values keep the compiled-in defaults.
type PlanFile struct {
	Version string          `yaml:"version"`
	Plan    []string        `yaml:"plan,omitempty"`
	Budgets PlanFileBudgets `yaml:"budgets,omitempty"`
	Breaker PlanFileBreaker `yaml:"breaker,omitempty"`
}

// PlanFileBudgets holds the timing overrides
type PlanFileBudgets struct {
	FlowBudgetMs  int `yaml:"flow_budget_ms,omitempty"`
	ToolTimeoutMs int `yaml:"tool_timeout_ms,omitempty"`
}

// PlanFileBreaker holds the circuit breaker overrides
type PlanFileBreaker struct {
	FailureThreshold int `yaml:"failure_threshold,omitempty"`
	OpenDurationS    int `yaml:"open_duration_s,omitempty"`
}

// LoadPlanConfig reads a YAML plan file and applies it over the defaults.
// An empty path returns the defaults unchanged.
func LoadPlanConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read plan config %s: %w", path, err)
	}

	var file PlanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return config, fmt.Errorf("failed to parse plan config %s: %w", path, err)
	}

	if len(file.Plan) > 0 {
		config.Plan = file.Plan
	}
	if file.Budgets.FlowBudgetMs > 0 {
		config.FlowBudget = time.Duration(file.Budgets.FlowBudgetMs) * time.Millisecond
	}
	if file.Budgets.ToolTimeoutMs > 0 {
		config.ToolTimeout = time.Duration(file.Budgets.ToolTimeoutMs) * time.Millisecond
	}
	if file.Breaker.FailureThreshold > 0 {
		config.FailureThreshold = file.Breaker.FailureThreshold
	}
	if file.Breaker.OpenDurationS > 0 {
		config.OpenDuration = time.Duration(file.Breaker.OpenDurationS) * time.Second
	}

	return config, nil
}

// getEnv retrieves environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
