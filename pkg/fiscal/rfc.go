// Package fiscal implements Mexican tax-domain primitives: RFC
// validation, CFDI UUID handling, the three-way match and invoice
// description checks.
package fiscal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	rfcMoralRe  = regexp.MustCompile(`^[A-ZÑ&]{3}([0-9]{6})[A-Z0-9]{3}$`)
	rfcFisicaRe = regexp.MustCompile(`^[A-ZÑ&]{4}([0-9]{6})[A-Z0-9]{3}$`)
)

// RFCKind distinguishes the two RFC shapes.
type RFCKind string

const (
	RFCPersonaMoral  RFCKind = "persona_moral"  // 12 chars
	RFCPersonaFisica RFCKind = "persona_fisica" // 13 chars
)

// RFCError is the deterministic structured error surfaced for an invalid
// RFC.
type RFCError struct {
	RFC    string `json:"rfc"`
	Reason string `json:"reason"`
}

func (e *RFCError) Error() string {
	return fmt.Sprintf("invalid RFC %q: %s", e.RFC, e.Reason)
}

// ValidateRFC checks an RFC against the persona moral (3 letters +
// 6 digits + 3 alphanumerics) and persona física (4 letters + 6 digits +
// 3 alphanumerics) shapes. The six-digit block must be a valid YYMMDD
// date.
func ValidateRFC(rfc string) (RFCKind, error) {
	var kind RFCKind
	var date string

	switch {
	case rfcMoralRe.MatchString(rfc):
		kind = RFCPersonaMoral
		date = rfcMoralRe.FindStringSubmatch(rfc)[1]
	case rfcFisicaRe.MatchString(rfc):
		kind = RFCPersonaFisica
		date = rfcFisicaRe.FindStringSubmatch(rfc)[1]
	default:
		switch len(rfc) {
		case 12, 13:
			return "", &RFCError{RFC: rfc, Reason: "malformed structure"}
		default:
			return "", &RFCError{RFC: rfc, Reason: fmt.Sprintf("length %d, want 12 or 13", len(rfc))}
		}
	}

	if err := validateYYMMDD(date); err != nil {
		return "", &RFCError{RFC: rfc, Reason: err.Error()}
	}
	return kind, nil
}

func validateYYMMDD(s string) error {
	month, _ := strconv.Atoi(s[2:4])
	day, _ := strconv.Atoi(s[4:6])
	if month < 1 || month > 12 {
		return fmt.Errorf("date block %s: month %02d out of range", s, month)
	}
	// Century is ambiguous in an RFC; validate the day against both and
	// accept if either yields a real date (leap years differ).
	for _, century := range []int{1900, 2000} {
		year := century + mustAtoi(s[0:2])
		t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		if day >= 1 && day <= t.AddDate(0, 1, -1).Day() {
			return nil
		}
	}
	return fmt.Errorf("date block %s: day %02d out of range", s, day)
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
