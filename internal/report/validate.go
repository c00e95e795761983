package report

import (
	"fmt"
	"math"

	"github.com/opensource-finance/mulerift/internal/domain"
)

// Validate checks the cross-field invariants of a result that a schema
// cannot express.
func Validate(r *domain.AnalysisResult) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	if r.SuspiciousAccounts == nil || r.FraudRings == nil {
		return fmt.Errorf("suspicious_accounts and fraud_rings must be arrays")
	}

	s := r.Summary
	if s.SuspiciousAccountsFlagged != len(r.SuspiciousAccounts) {
		return fmt.Errorf("suspicious_accounts_flagged is %d but %d accounts are listed",
			s.SuspiciousAccountsFlagged, len(r.SuspiciousAccounts))
	}
	if s.FraudRingsDetected != len(r.FraudRings) {
		return fmt.Errorf("fraud_rings_detected is %d but %d rings are listed",
			s.FraudRingsDetected, len(r.FraudRings))
	}
	if s.TotalAccountsAnalyzed < s.SuspiciousAccountsFlagged {
		return fmt.Errorf("total_accounts_analyzed %d is below flagged count %d",
			s.TotalAccountsAnalyzed, s.SuspiciousAccountsFlagged)
	}

	accounts := make(map[string]*domain.SuspiciousAccount, len(r.SuspiciousAccounts))
	for i := range r.SuspiciousAccounts {
		acc := &r.SuspiciousAccounts[i]
		if _, dup := accounts[acc.AccountID]; dup {
			return fmt.Errorf("account %s listed twice", acc.AccountID)
		}
		accounts[acc.AccountID] = acc

		if acc.SuspicionScore <= 0 || acc.SuspicionScore > 100 {
			return fmt.Errorf("account %s score %v outside (0,100]", acc.AccountID, float64(acc.SuspicionScore))
		}
		if len(acc.DetectedPatterns) == 0 {
			return fmt.Errorf("account %s has no detected patterns", acc.AccountID)
		}
		if i > 0 {
			prev := r.SuspiciousAccounts[i-1]
			if prev.SuspicionScore < acc.SuspicionScore ||
				(prev.SuspicionScore == acc.SuspicionScore && prev.AccountID > acc.AccountID) {
				return fmt.Errorf("accounts %s and %s out of order", prev.AccountID, acc.AccountID)
			}
		}
	}

	member := make(map[string]string)
	for i, ring := range r.FraudRings {
		if want := domain.FormatRingID(i + 1); ring.RingID != want {
			return fmt.Errorf("ring %d has id %s, want %s", i, ring.RingID, want)
		}
		if i > 0 && ring.PatternType.Priority() < r.FraudRings[i-1].PatternType.Priority() {
			return fmt.Errorf("ring %s of type %s listed after %s", ring.RingID, ring.PatternType, r.FraudRings[i-1].PatternType)
		}

		var total float64
		for _, id := range ring.MemberAccounts {
			acc, ok := accounts[id]
			if !ok {
				return fmt.Errorf("ring %s member %s is not a suspicious account", ring.RingID, id)
			}
			if other, dup := member[id]; dup {
				return fmt.Errorf("account %s belongs to rings %s and %s", id, other, ring.RingID)
			}
			member[id] = ring.RingID
			if acc.RingID != ring.RingID {
				return fmt.Errorf("account %s carries ring_id %q, want %s", id, acc.RingID, ring.RingID)
			}
			total += float64(acc.SuspicionScore)
		}
		if len(ring.MemberAccounts) == 0 {
			return fmt.Errorf("ring %s has no members", ring.RingID)
		}
		mean := total / float64(len(ring.MemberAccounts))
		if math.Abs(mean-float64(ring.RiskScore)) > 1e-6 {
			return fmt.Errorf("ring %s risk_score %v is not the member mean %v", ring.RingID, float64(ring.RiskScore), mean)
		}
	}

	for id, acc := range accounts {
		if acc.RingID != "" && member[id] != acc.RingID {
			return fmt.Errorf("account %s references ring %s it is not a member of", id, acc.RingID)
		}
	}
	return nil
}
