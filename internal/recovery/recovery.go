// Package recovery learns which fallback strategy tends to fix which
// failure. Strategy selection walks a three-tier fallback: a pattern proven
// for the exact failure signature (error code, app, failed action kind),
// then one proven for the code and action in any app, then any pattern for
// the code, and finally the built-in default.
package recovery

import (
	"sort"

	"go.uber.org/zap"

	"deskflow/internal/store"
)

// Strategy names the corrective action the executor applies before
// retrying a failed step.
type Strategy string

const (
	StrategyCoordinateClick Strategy = "coordinate_click"
	StrategyWaitAndRetry    Strategy = "wait_and_retry"
	StrategyExtendTimeout   Strategy = "extend_timeout"
	StrategyRefocusWindow   Strategy = "refocus_window"
)

// Error codes the executor attaches to step failures.
const (
	CodeTargetNotFound = "TARGET_NOT_FOUND"
	CodeInputFailed    = "INPUT_FAILED"
	CodeTimeout        = "TIMEOUT"
)

// A learned pattern only outranks the built-in default once it has enough
// history behind it.
const (
	minAttempts    = 3
	minSuccessRate = 0.6
)

// Manager selects and records recovery strategies.
type Manager struct {
	store  *store.LocalStore
	logger *zap.Logger
}

// NewManager creates a recovery manager.
func NewManager(s *store.LocalStore, logger *zap.Logger) *Manager {
	return &Manager{store: s, logger: logger}
}

// defaultStrategy is the built-in fallback per error code.
func defaultStrategy(errorCode string) Strategy {
	switch errorCode {
	case CodeTargetNotFound:
		return StrategyCoordinateClick
	case CodeTimeout:
		return StrategyExtendTimeout
	case CodeInputFailed:
		return StrategyRefocusWindow
	}
	return StrategyWaitAndRetry
}

// LearnedRecovery picks the strategy to try for a failure signature.
func (m *Manager) LearnedRecovery(errorCode, appName, failedAction string) Strategy {
	tiers := []func() ([]*store.RecoveryPattern, error){
		func() ([]*store.RecoveryPattern, error) {
			return m.store.FindRecovery(errorCode, appName, failedAction)
		},
		func() ([]*store.RecoveryPattern, error) {
			return m.store.FindRecoveryByAction(errorCode, failedAction)
		},
		func() ([]*store.RecoveryPattern, error) {
			return m.store.FindRecoveryByCode(errorCode)
		},
	}

	for _, lookup := range tiers {
		patterns, err := lookup()
		if err != nil {
			m.logger.Warn("Recovery lookup failed", zap.Error(err))
			break
		}
		if s, ok := bestReliable(patterns); ok {
			return s
		}
	}
	return defaultStrategy(errorCode)
}

// bestReliable returns the highest-success-rate pattern that clears the
// sample gate.
func bestReliable(patterns []*store.RecoveryPattern) (Strategy, bool) {
	var best *store.RecoveryPattern
	for _, p := range patterns {
		if p.Attempts < minAttempts || p.SuccessRate() < minSuccessRate {
			continue
		}
		if best == nil || p.SuccessRate() > best.SuccessRate() {
			best = p
		}
	}
	if best == nil {
		return "", false
	}
	return Strategy(best.Strategy), true
}

// RecordRecovery stores the outcome of one recovery attempt.
func (m *Manager) RecordRecovery(errorCode, appName, failedAction string, strategy Strategy, success bool) {
	if err := m.store.UpsertRecovery(errorCode, appName, failedAction, string(strategy), success); err != nil {
		m.logger.Warn("Failed to record recovery outcome", zap.Error(err))
	}
}

// ReliablePatterns returns the learned patterns that clear the sample
// gate, best success rate first.
func (m *Manager) ReliablePatterns() ([]*store.RecoveryPattern, error) {
	all, err := m.store.AllRecoveryPatterns()
	if err != nil {
		return nil, err
	}

	var out []*store.RecoveryPattern
	for _, p := range all {
		if p.Attempts >= minAttempts && p.SuccessRate() >= minSuccessRate {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SuccessRate() > out[j].SuccessRate()
	})
	return out, nil
}
