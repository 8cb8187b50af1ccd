package fraud

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
)

// Config holds check thresholds. Zero values are replaced by defaults.
type Config struct {
	VelocityLimit          int           `yaml:"velocity_limit" json:"velocity_limit"`
	VelocityWindow         time.Duration `yaml:"velocity_window" json:"velocity_window"`
	ZScoreThreshold        float64       `yaml:"zscore_threshold" json:"zscore_threshold"`
	MinSample              int           `yaml:"min_sample" json:"min_sample"`
	HighImpactThreshold    int           `yaml:"high_impact_threshold" json:"high_impact_threshold"`
	ConcentrationThreshold int           `yaml:"concentration_threshold" json:"concentration_threshold"`
	Rules                  []Rule        `yaml:"rules" json:"rules"`
}

// Rule is an operator-defined CEL expression evaluated against each token. A
// true result raises a policy_rule alert.
//
// The expression sees two variables: token (id, user_id, mission_id,
// organization_id, impact_strength, skills, verification_level, status,
// issued_at, disputed) and user (token_count, active_count, organizations).
type Rule struct {
	Name       string   `yaml:"name" json:"name"`
	Expression string   `yaml:"expression" json:"expression"`
	Severity   Severity `yaml:"severity" json:"severity"`
	Action     Action   `yaml:"action" json:"action"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		VelocityLimit:          2,
		VelocityWindow:         7 * 24 * time.Hour,
		ZScoreThreshold:        3,
		MinSample:              3,
		HighImpactThreshold:    80,
		ConcentrationThreshold: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VelocityLimit <= 0 {
		c.VelocityLimit = d.VelocityLimit
	}
	if c.VelocityWindow <= 0 {
		c.VelocityWindow = d.VelocityWindow
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = d.ZScoreThreshold
	}
	if c.MinSample < d.MinSample {
		c.MinSample = d.MinSample
	}
	if c.HighImpactThreshold <= 0 {
		c.HighImpactThreshold = d.HighImpactThreshold
	}
	if c.ConcentrationThreshold <= 0 {
		c.ConcentrationThreshold = d.ConcentrationThreshold
	}
	return c
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Detector runs every check over a user's tokens.
type Detector struct {
	cfg    Config
	rules  []compiledRule
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

func WithClock(clock func() time.Time) Option {
	return func(d *Detector) { d.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// NewDetector compiles the configured rules. A rule that does not compile to a
// boolean expression is a configuration error.
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	d := &Detector{
		cfg:    cfg.withDefaults(),
		clock:  time.Now,
		logger: slog.Default().With("component", "fraud"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if len(d.cfg.Rules) == 0 {
		return d, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("token", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("fraud: cel environment: %w", err)
	}
	for _, r := range d.cfg.Rules {
		if r.Name == "" {
			return nil, errors.New("fraud: rule without name")
		}
		if !r.Severity.Valid() || !r.Action.Valid() {
			return nil, fmt.Errorf("fraud: rule %s: invalid severity %q or action %q", r.Name, r.Severity, r.Action)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("fraud: rule %s: compile: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("fraud: rule %s: expression must return bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("fraud: rule %s: program: %w", r.Name, err)
		}
		d.rules = append(d.rules, compiledRule{Rule: r, prg: prg})
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Analyze runs all checks over tokens, the current snapshot of every token the
// user holds. Alerts are ordered by severity, then by check.
func (d *Detector) Analyze(userID string, tokens []credential.Token) []Alert {
	now := d.clock().UTC()
	active := activeAt(tokens, now)

	var findings []finding
	findings = append(findings, duplicateClaims(active)...)
	findings = append(findings, velocity(tokens, d.cfg.VelocityLimit, d.cfg.VelocityWindow)...)
	findings = append(findings, inflation(tokens, d.cfg.ZScoreThreshold, d.cfg.MinSample)...)
	findings = append(findings, unverifiedHighImpact(active, d.cfg.HighImpactThreshold)...)
	findings = append(findings, concentration(active, d.cfg.ConcentrationThreshold)...)
	findings = append(findings, d.policyRules(tokens, active, now)...)

	alerts := make([]Alert, 0, len(findings))
	for _, f := range findings {
		alerts = append(alerts, Alert{
			AlertID:           alertID(userID, f.kind, f.rule, f.tokens),
			UserID:            userID,
			Kind:              f.kind,
			Severity:          f.severity,
			Evidence:          f.evidence,
			RecommendedAction: f.action,
			TokenIDs:          f.tokens,
			Rule:              f.rule,
			DetectedAt:        now,
		})
	}
	slices.SortStableFunc(alerts, func(a, b Alert) int {
		return b.Severity.rank() - a.Severity.rank()
	})
	return alerts
}

func (d *Detector) policyRules(tokens, active []credential.Token, now time.Time) []finding {
	if len(d.rules) == 0 {
		return nil
	}
	orgs := make([]string, 0)
	for _, t := range tokens {
		if !slices.Contains(orgs, t.OrganizationID()) {
			orgs = append(orgs, t.OrganizationID())
		}
	}
	user := map[string]any{
		"token_count":   int64(len(tokens)),
		"active_count":  int64(len(active)),
		"organizations": orgs,
	}

	var out []finding
	for _, t := range byIssuance(tokens) {
		input := map[string]any{"token": tokenVars(t, now), "user": user}
		for _, r := range d.rules {
			val, _, err := r.prg.Eval(input)
			if err != nil {
				d.logger.Warn("fraud: rule evaluation failed", "rule", r.Name, "token_id", t.ID(), "error", err)
				continue
			}
			if matched, ok := val.Value().(bool); !ok || !matched {
				continue
			}
			out = append(out, finding{
				kind:     KindPolicyRule,
				severity: r.Severity,
				action:   r.Action,
				evidence: fmt.Sprintf("rule %s matched token %s", r.Name, t.ID()),
				tokens:   []string{t.ID()},
				rule:     r.Name,
			})
		}
	}
	return out
}

func tokenVars(t credential.Token, now time.Time) map[string]any {
	return map[string]any{
		"id":                 t.ID(),
		"user_id":            t.UserID(),
		"mission_id":         t.MissionID(),
		"organization_id":    t.OrganizationID(),
		"impact_strength":    int64(t.ImpactStrength()),
		"skills":             t.SkillsMastered(),
		"verification_level": string(t.VerificationLevel()),
		"status":             string(t.EffectiveStatus(now)),
		"issued_at":          t.IssuedAt(),
		"disputed":           t.Metadata().DisputedAt != nil,
	}
}
