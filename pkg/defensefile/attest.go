package defensefile

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeadAttestation is a signed statement of a project's chain head,
// handed to auditors so a later truncation of the store is provable.
type HeadAttestation struct {
	ProjectID string `json:"project_id"`
	Sequence  uint64 `json:"sequence"`
	Head      string `json:"head"`
	Token     string `json:"token"`
}

// Attestor signs and verifies head attestations with an HMAC key.
type Attestor struct {
	key    []byte
	issuer string
	clock  func() time.Time
}

func NewAttestor(key []byte, issuer string) *Attestor {
	return &Attestor{key: key, issuer: issuer, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (a *Attestor) WithClock(clock func() time.Time) *Attestor {
	a.clock = clock
	return a
}

type headClaims struct {
	ProjectID string `json:"project_id"`
	Sequence  uint64 `json:"sequence"`
	Head      string `json:"head"`
	jwt.RegisteredClaims
}

// Attest signs the current head of a project's chain.
func (a *Attestor) Attest(projectID string, sequence uint64, head string) (*HeadAttestation, error) {
	now := a.clock()
	claims := headClaims{
		ProjectID: projectID,
		Sequence:  sequence,
		Head:      head,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   a.issuer,
			Subject:  projectID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return nil, fmt.Errorf("defensefile: sign attestation: %w", err)
	}
	return &HeadAttestation{ProjectID: projectID, Sequence: sequence, Head: head, Token: token}, nil
}

// Verify checks the token signature and that the attested head matches
// the claims it carries.
func (a *Attestor) Verify(att *HeadAttestation) error {
	var claims headClaims
	token, err := jwt.ParseWithClaims(att.Token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.key, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil {
		return fmt.Errorf("defensefile: parse attestation: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("defensefile: attestation token invalid")
	}
	if claims.ProjectID != att.ProjectID || claims.Sequence != att.Sequence || claims.Head != att.Head {
		return fmt.Errorf("defensefile: attestation claims do not match head")
	}
	return nil
}
