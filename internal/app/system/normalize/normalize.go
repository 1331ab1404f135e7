// Package normalize trims and case-folds user-supplied values before they
// are stored or compared.
package normalize

import (
	"strings"

	"github.com/dalemusser/stratacohort/internal/domain/models"
)

// Email lowercases and trims an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace and keeps case.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// Role lowercases and trims a user role.
func Role(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CohortStatus lowercases and trims a cohort status. The result may still
// be invalid; check it with Valid.
func CohortStatus(s string) models.CohortStatus {
	return models.CohortStatus(strings.ToLower(strings.TrimSpace(s)))
}

// Kind lowercases a cohort kind; an empty value becomes "batch".
func Kind(s string) string {
	k := strings.ToLower(strings.TrimSpace(s))
	if k == "" {
		return models.KindBatch
	}
	return k
}
