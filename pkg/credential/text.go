package credential

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// checkText rejects strings the canonical digest cannot tell apart from
// another input. Invalid UTF-8 is replaced with U+FFFD when hashed and
// canonicalization folds equivalent forms together, so only valid NFC text
// is accepted into a token.
func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidInput, field)
	}
	if !norm.NFC.IsNormalString(s) {
		return fmt.Errorf("%w: %s is not NFC-normalized", ErrInvalidInput, field)
	}
	return nil
}

// checkTexts is checkText over field/value pairs, stopping at the first error.
func checkTexts(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := checkText(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// textFields lists every free-text value a token carries.
func (t Token) textFields() []string {
	pairs := []string{
		"user_id", t.userID,
		"mission_id", t.mission.ID,
		"mission_title", t.mission.Title,
		"organization_id", t.mission.OrganizationID,
		"revocation_reason", t.metadata.RevocationReason,
		"dispute_reason", t.metadata.DisputeReason,
		"disputed_by", t.metadata.DisputedBy,
	}
	for _, s := range t.skills {
		pairs = append(pairs, "skills_mastered", s)
	}
	return pairs
}
