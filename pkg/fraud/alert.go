// Package fraud runs advisory checks over a user's credentials. Checks are pure
// functions of the token set; they never touch the ledger and never refuse an
// issuance. Acting on an alert is the caller's decision.
package fraud

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names the check that raised an alert.
type Kind string

const (
	KindDuplicateClaim            Kind = "duplicate_claim"
	KindVelocityAnomaly           Kind = "velocity_anomaly"
	KindOutcomeInflation          Kind = "outcome_inflation"
	KindUnverifiedHighImpact      Kind = "unverified_high_impact"
	KindOrganizationConcentration Kind = "organization_concentration"
	KindPolicyRule                Kind = "policy_rule"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Action is what the detector recommends a reviewer do.
type Action string

const (
	ActionFlag        Action = "flag"
	ActionBlock       Action = "block"
	ActionInvestigate Action = "investigate"
)

func (a Action) Valid() bool {
	return a == ActionFlag || a == ActionBlock || a == ActionInvestigate
}

// Alert is an advisory signal. It is not an error.
type Alert struct {
	AlertID           string    `json:"alert_id"`
	UserID            string    `json:"user_id"`
	Kind              Kind      `json:"kind"`
	Severity          Severity  `json:"severity"`
	Evidence          string    `json:"evidence"`
	RecommendedAction Action    `json:"recommended_action"`
	TokenIDs          []string  `json:"token_ids"`
	Rule              string    `json:"rule,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
}

var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:credledger:alert:v1"))

// alertID is stable for the same finding, so repeated queries return the same id.
func alertID(userID string, kind Kind, rule string, tokenIDs []string) string {
	name := strings.Join(append([]string{userID, string(kind), rule}, tokenIDs...), "\x00")
	return uuid.NewSHA1(alertNamespace, []byte(name)).String()
}
