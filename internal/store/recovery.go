package store

import (
	"database/sql"
	"fmt"
)

// RecoveryPattern counts how often a fallback strategy worked for a given
// failure signature: error code, application, and the action kind that
// failed.
type RecoveryPattern struct {
	ErrorCode    string
	AppName      string
	FailedAction string
	Strategy     string
	Attempts     int
	Successes    int
}

// SuccessRate is the observed fraction of attempts that succeeded.
func (p *RecoveryPattern) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts)
}

// UpsertRecovery records one attempt of a recovery strategy, creating the
// pattern row on first sight.
func (s *LocalStore) UpsertRecovery(errorCode, appName, failedAction, strategy string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO recovery_patterns (error_code, app_name, failed_action, strategy, attempts, successes, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(error_code, app_name, failed_action, strategy) DO UPDATE SET
			attempts = attempts + 1,
			successes = successes + ?,
			updated_at = CURRENT_TIMESTAMP`,
		errorCode, appName, failedAction, strategy, boolToInt(success), boolToInt(success))
	if err != nil {
		return fmt.Errorf("failed to upsert recovery pattern: %w", err)
	}
	return nil
}

const selectRecoveryColumns = `SELECT error_code, app_name, failed_action, strategy, attempts, successes FROM recovery_patterns`

// FindRecovery returns patterns exactly matching the failure signature,
// most attempted first.
func (s *LocalStore) FindRecovery(errorCode, appName, failedAction string) ([]*RecoveryPattern, error) {
	return s.queryRecovery(selectRecoveryColumns+
		` WHERE error_code = ? AND app_name = ? AND failed_action = ? ORDER BY attempts DESC`,
		errorCode, appName, failedAction)
}

// FindRecoveryByAction returns patterns for an error code and failed action
// regardless of application.
func (s *LocalStore) FindRecoveryByAction(errorCode, failedAction string) ([]*RecoveryPattern, error) {
	return s.queryRecovery(selectRecoveryColumns+
		` WHERE error_code = ? AND failed_action = ? ORDER BY attempts DESC`,
		errorCode, failedAction)
}

// FindRecoveryByCode returns every pattern recorded for an error code.
func (s *LocalStore) FindRecoveryByCode(errorCode string) ([]*RecoveryPattern, error) {
	return s.queryRecovery(selectRecoveryColumns+
		` WHERE error_code = ? ORDER BY attempts DESC`, errorCode)
}

// AllRecoveryPatterns returns every pattern, most attempted first.
func (s *LocalStore) AllRecoveryPatterns() ([]*RecoveryPattern, error) {
	return s.queryRecovery(selectRecoveryColumns + ` ORDER BY attempts DESC`)
}

func (s *LocalStore) queryRecovery(query string, args ...any) ([]*RecoveryPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery patterns: %w", err)
	}
	defer rows.Close()
	return scanRecovery(rows)
}

func scanRecovery(rows *sql.Rows) ([]*RecoveryPattern, error) {
	var out []*RecoveryPattern
	for rows.Next() {
		var p RecoveryPattern
		err := rows.Scan(&p.ErrorCode, &p.AppName, &p.FailedAction, &p.Strategy, &p.Attempts, &p.Successes)
		if err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
