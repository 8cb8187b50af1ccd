// Package issuance is the write path of the credential ledger: it turns scoring
// results into tokens, appends them, and records revocations and disputes. It
// also fronts the read-side checks (fraud, integrity, export) so that every
// caller goes through one traced, logged entry point.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/credledger/pkg/archive"
	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/crypto"
	"github.com/Mindburn-Labs/credledger/pkg/fraud"
	"github.com/Mindburn-Labs/credledger/pkg/integrity"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
	"github.com/Mindburn-Labs/credledger/pkg/observability"
	"github.com/Mindburn-Labs/credledger/pkg/query"
)

// ErrTokenNotFound is returned when a transition names a token the ledger has
// never recorded.
var ErrTokenNotFound = errors.New("token not found")

// IssueRequest carries one scored contribution.
type IssueRequest struct {
	UserID                string                   `json:"user_id"`
	Mission               credential.Mission       `json:"mission"`
	Scoring               credential.ScoringResult `json:"scoring"`
	OrganizationSignature []byte                   `json:"organization_signature"`
}

// Service coordinates the factory, the ledger and the read-side checks.
type Service struct {
	factory  *credential.Factory
	ledger   *ledger.Ledger
	query    *query.Service
	detector *fraud.Detector
	obs      *observability.Provider
	logger   *slog.Logger
	clock    func() time.Time
}

type Option func(*Service)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

// New wires a service over l. The factory and detector must share the
// service clock for issuance times and alert windows to agree; callers that
// inject a clock should build both with it.
func New(l *ledger.Ledger, factory *credential.Factory, detector *fraud.Detector, opts ...Option) (*Service, error) {
	s := &Service{
		factory:  factory,
		ledger:   l,
		detector: detector,
		logger:   slog.Default().With("component", "issuance"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		p, err := observability.New(context.Background(), nil)
		if err != nil {
			return nil, fmt.Errorf("observability: %w", err)
		}
		s.obs = p
	}
	s.query = query.NewService(l, s.clock)
	return s, nil
}

func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

func (s *Service) Query() *query.Service { return s.query }

// Issue builds a token for req and appends it. The token ID is derived from
// user, mission and issuance time, so a call resolving to a token ID that is
// already recorded returns the existing entry. Calls made at different clock
// readings are distinct issuances; HTTP clients dedupe retries with an
// Idempotency-Key.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (entry ledger.Entry, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "credential.issue",
		observability.AttrUserID.String(req.UserID),
		observability.AttrMissionID.String(req.Mission.ID),
		observability.AttrOrgID.String(req.Mission.OrganizationID),
	)
	defer func() { done(err) }()

	tok, err := s.factory.Issue(req.UserID, req.Mission, req.Scoring, req.OrganizationSignature)
	if err != nil {
		s.logger.WarnContext(ctx, "issuance rejected", "user_id", req.UserID, "mission_id", req.Mission.ID, "error", err)
		return ledger.Entry{}, err
	}
	observability.SpanFromContext(ctx).SetAttributes(observability.AttrTokenID.String(tok.ID()))

	if existing, ok := s.ledger.Find(tok.ID(), ledger.ActionIssue); ok {
		s.logger.InfoContext(ctx, "issuance replayed", "token_id", tok.ID(), "sequence", existing.Sequence)
		return existing, nil
	}

	entry, err = s.append(ctx, ledger.ActionIssue, tok, canonicalize.Genesis)
	if errors.Is(err, ledger.ErrStaleState) {
		// A concurrent call recorded the same token first.
		if existing, ok := s.ledger.Find(tok.ID(), ledger.ActionIssue); ok {
			s.logger.InfoContext(ctx, "issuance replayed", "token_id", tok.ID(), "sequence", existing.Sequence)
			return existing, nil
		}
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	s.logger.InfoContext(ctx, "token issued",
		"token_id", tok.ID(),
		"user_id", tok.UserID(),
		"mission_id", tok.MissionID(),
		"impact", tok.ImpactStrength(),
		"sequence", entry.Sequence,
	)
	return entry, nil
}

// maxTransitionAttempts bounds how often a transition is re-derived after
// losing a race for the same token.
const maxTransitionAttempts = 8

// Revoke appends a revoked snapshot of tokenID. A token that is already
// revoked yields ErrAlreadyRevoked together with the entry that revoked it.
// Concurrent revocations of one token record exactly one revoke entry.
func (s *Service) Revoke(ctx context.Context, tokenID, reason string, revokerSignature []byte) (entry ledger.Entry, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "credential.revoke", observability.AttrTokenID.String(tokenID))
	defer func() { done(err) }()

	entry, err = s.transition(ctx, ledger.ActionRevoke, tokenID, func(current credential.Token) (credential.Token, error) {
		return credential.Revoke(current, reason, revokerSignature, s.clock())
	})
	if err != nil {
		if errors.Is(err, credential.ErrAlreadyRevoked) {
			prior, _ := s.ledger.Find(tokenID, ledger.ActionRevoke)
			return prior, err
		}
		return ledger.Entry{}, err
	}
	s.logger.InfoContext(ctx, "token revoked", "token_id", tokenID, "reason", reason, "sequence", entry.Sequence)
	return entry, nil
}

// Dispute appends a snapshot of tokenID carrying a dispute record. The status
// is unchanged.
func (s *Service) Dispute(ctx context.Context, tokenID, reason, disputedBy string) (entry ledger.Entry, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "credential.dispute", observability.AttrTokenID.String(tokenID))
	defer func() { done(err) }()

	entry, err = s.transition(ctx, ledger.ActionDispute, tokenID, func(current credential.Token) (credential.Token, error) {
		return credential.Dispute(current, reason, disputedBy, s.clock())
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.logger.InfoContext(ctx, "token disputed", "token_id", tokenID, "disputed_by", disputedBy, "sequence", entry.Sequence)
	return entry, nil
}

// transition applies fn to the latest snapshot of tokenID and appends the
// result only if no other entry for the token landed in between. On a lost
// race fn is re-applied to the newer snapshot, so its own checks (such as
// ErrAlreadyRevoked) see what the winner recorded.
func (s *Service) transition(ctx context.Context, action ledger.Action, tokenID string, fn func(credential.Token) (credential.Token, error)) (ledger.Entry, error) {
	for attempt := 1; ; attempt++ {
		current, ok := s.query.Token(tokenID)
		if !ok {
			return ledger.Entry{}, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
		}
		next, err := fn(current)
		if err != nil {
			return ledger.Entry{}, err
		}
		entry, err := s.append(ctx, action, next, current.StateDigest())
		if errors.Is(err, ledger.ErrStaleState) && attempt < maxTransitionAttempts {
			s.logger.DebugContext(ctx, "transition raced; retrying", "action", action, "token_id", tokenID, "attempt", attempt)
			continue
		}
		return entry, err
	}
}

func (s *Service) append(ctx context.Context, action ledger.Action, tok credential.Token, prev canonicalize.Digest) (entry ledger.Entry, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "ledger.append",
		observability.AttrAction.String(string(action)),
		observability.AttrTokenID.String(tok.ID()),
	)
	defer func() { done(err) }()

	entry, err = s.ledger.AppendIf(ctx, action, tok, prev)
	if err != nil {
		if !errors.Is(err, ledger.ErrStaleState) {
			s.logger.ErrorContext(ctx, "ledger append failed", "action", action, "token_id", tok.ID(), "error", err)
		}
		return ledger.Entry{}, err
	}
	observability.SpanFromContext(ctx).SetAttributes(observability.AttrSequence.Int64(int64(entry.Sequence)))
	s.obs.RecordAppend(ctx, string(action))
	return entry, nil
}

// Alerts runs the fraud detector over the user's current tokens.
func (s *Service) Alerts(ctx context.Context, userID string) []fraud.Alert {
	ctx, done := s.obs.TrackOperation(ctx, "fraud.analyze", observability.AttrUserID.String(userID))
	defer done(nil)

	alerts := s.detector.Analyze(userID, s.query.CurrentTokens(userID))
	for _, a := range alerts {
		s.obs.RecordAlert(ctx, string(a.Kind), string(a.Severity))
	}
	if len(alerts) > 0 {
		s.logger.WarnContext(ctx, "fraud alerts raised", "user_id", userID, "count", len(alerts), "top_kind", alerts[0].Kind)
	}
	return alerts
}

// VerifyChain verifies a consistent snapshot of the ledger.
func (s *Service) VerifyChain(ctx context.Context) integrity.Report {
	ctx, done := s.obs.TrackOperation(ctx, "integrity.verify")
	report := integrity.VerifyLedger(s.ledger)
	done(report.Err())

	s.obs.RecordIntegrityFailures(ctx, len(report.Mismatches))
	if !report.Intact() {
		first, _ := report.First()
		s.logger.ErrorContext(ctx, "ledger integrity failure",
			"mismatches", len(report.Mismatches),
			"first_index", first.Index,
			"first_kind", first.Kind,
		)
	}
	return report
}

// Export signs entries [from, to) into a bundle and stores it in sink. A zero
// to means the current tail.
func (s *Service) Export(ctx context.Context, from, to uint64, signer crypto.Signer, sink archive.Sink) (ref string, bundle *archive.Bundle, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "archive.export",
		attribute.Int64("credledger.archive.from", int64(from)),
		attribute.Int64("credledger.archive.to", int64(to)),
	)
	defer func() { done(err) }()

	if to == 0 {
		to = uint64(s.ledger.Len())
	}
	bundle, err = archive.Export(s.ledger.Range(from, to), signer, s.clock())
	if err != nil {
		return "", nil, err
	}
	ref, err = archive.Store(ctx, sink, bundle)
	if err != nil {
		return "", nil, err
	}
	s.logger.InfoContext(ctx, "bundle exported",
		"ref", ref,
		"from", bundle.FromSequence,
		"to", bundle.ToSequence,
		"merkle_root", bundle.MerkleRoot.String(),
		"key_id", bundle.KeyID,
	)
	return ref, bundle, nil
}
