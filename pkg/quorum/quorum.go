// Package quorum turns signed multi-party approvals into the quorum_satisfied signal
// consumed by the halt matrix.
package quorum

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
)

const (
	Issuer   = "govkernel/quorum"
	Audience = "govkernel.privileged-ops"
)

var (
	ErrWeakSecret       = errors.New("quorum: secret must be at least 32 bytes")
	ErrInvalidThreshold = errors.New("quorum: threshold must be at least 1")
	ErrOpMismatch       = errors.New("quorum: approval is for a different operation class")
	ErrDuplicate        = errors.New("quorum: approver already counted")
)

// Claims is one approver's signed consent to a single operation class.
type Claims struct {
	jwt.RegisteredClaims
	OpClass haltmatrix.OpClass `json:"op_class"`
}

// Rejection explains why one token did not count.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result reports whether enough distinct approvers signed for the operation.
type Result struct {
	Satisfied bool        `json:"satisfied"`
	Threshold int         `json:"threshold"`
	Approvers []string    `json:"approvers"`
	Rejected  []Rejection `json:"rejected,omitempty"`
}

// Verifier issues and checks HS256 approval tokens against a shared secret.
type Verifier struct {
	secret    []byte
	threshold int
	clock     func() time.Time
}

func NewVerifier(secret []byte, threshold int) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	if threshold < 1 {
		return nil, ErrInvalidThreshold
	}
	return &Verifier{secret: secret, threshold: threshold, clock: time.Now}, nil
}

// WithClock overrides the clock for testing.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

func (v *Verifier) Threshold() int { return v.threshold }

// Issue signs an approval by approver for op, valid for ttl.
func (v *Verifier) Issue(approver string, op haltmatrix.OpClass, ttl time.Duration) (string, error) {
	if approver == "" {
		return "", fmt.Errorf("quorum: approver is required")
	}
	if !op.Valid() {
		return "", fmt.Errorf("quorum: unknown operation class %q", op)
	}
	now := v.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   approver,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OpClass: op,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// Check counts distinct valid approvers for op. Invalid, expired, mismatched and
// duplicate tokens are reported in Rejected and never counted.
func (v *Verifier) Check(tokens []string, op haltmatrix.OpClass) Result {
	res := Result{Threshold: v.threshold, Approvers: []string{}}
	seen := make(map[string]bool)
	for i, tok := range tokens {
		claims, err := v.parse(tok)
		switch {
		case err != nil:
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: err.Error()})
			continue
		case claims.OpClass != op:
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: ErrOpMismatch.Error()})
			continue
		case seen[claims.Subject]:
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: ErrDuplicate.Error()})
			continue
		}
		seen[claims.Subject] = true
		res.Approvers = append(res.Approvers, claims.Subject)
	}
	sort.Strings(res.Approvers)
	res.Satisfied = len(res.Approvers) >= v.threshold
	return res
}
