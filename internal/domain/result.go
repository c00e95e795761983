package domain

import (
	"fmt"
	"math"
	"strconv"
)

// Score is a [0,100] metric that serializes with exactly one decimal digit.
type Score float64

// Rounded returns the score rounded half away from zero to one decimal.
func (s Score) Rounded() float64 {
	return math.Round(float64(s)*10) / 10
}

// MarshalJSON implements json.Marshaler.
func (s Score) MarshalJSON() ([]byte, error) {
	v := s.Rounded()
	if v == 0 {
		v = 0 // drop negative zero
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("score %v is not a finite number", float64(s))
	}
	return strconv.AppendFloat(nil, v, 'f', 1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Score) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid score %q: %w", data, err)
	}
	*s = Score(v)
	return nil
}

// SuspiciousAccount is one flagged account in the analysis output.
type SuspiciousAccount struct {
	AccountID        string   `json:"account_id"`
	SuspicionScore   Score    `json:"suspicion_score"`
	DetectedPatterns []string `json:"detected_patterns"`
	RingID           string   `json:"ring_id,omitempty"`
}

// FraudRing is a typed cluster of accounts sharing one detected pattern.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	MemberAccounts []string `json:"member_accounts"`
	PatternType    RingType `json:"pattern_type"`
	RiskScore      Score    `json:"risk_score"`
}

// Summary carries the run-level counters.
type Summary struct {
	TotalAccountsAnalyzed     int   `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int   `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int   `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     Score `json:"processing_time_seconds"`
}

// AnalysisResult is the fixed output contract of one engine invocation.
type AnalysisResult struct {
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Summary            Summary             `json:"summary"`
}

// FormatRingID renders the sequential 1-based ring identifier.
func FormatRingID(seq int) string {
	return fmt.Sprintf("RING_%03d", seq)
}
