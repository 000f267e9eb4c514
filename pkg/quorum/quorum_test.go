package quorum

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
)

var secret = []byte(strings.Repeat("k", 32))

func newVerifier(t *testing.T, threshold int, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret, threshold)
	require.NoError(t, err)
	return v.WithClock(func() time.Time { return now })
}

func TestNewVerifier(t *testing.T) {
	_, err := NewVerifier([]byte("short"), 2)
	assert.ErrorIs(t, err, ErrWeakSecret)
	_, err = NewVerifier(secret, 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestQuorumSatisfied(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	v := newVerifier(t, 2, now)

	a, err := v.Issue("alice", haltmatrix.OpConfigDeploy, time.Hour)
	require.NoError(t, err)
	b, err := v.Issue("bob", haltmatrix.OpConfigDeploy, time.Hour)
	require.NoError(t, err)

	res := v.Check([]string{b, a}, haltmatrix.OpConfigDeploy)
	assert.True(t, res.Satisfied)
	assert.Equal(t, []string{"alice", "bob"}, res.Approvers)
	assert.Empty(t, res.Rejected)
	assert.Equal(t, 2, res.Threshold)
}

func TestQuorumRejections(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	v := newVerifier(t, 2, now)

	alice, err := v.Issue("alice", haltmatrix.OpConfigDeploy, time.Hour)
	require.NoError(t, err)
	aliceAgain, err := v.Issue("alice", haltmatrix.OpConfigDeploy, time.Hour)
	require.NoError(t, err)
	wrongOp, err := v.Issue("carol", haltmatrix.OpDataDelete, time.Hour)
	require.NoError(t, err)
	expired, err := newVerifier(t, 2, now.Add(-2*time.Hour)).Issue("dave", haltmatrix.OpConfigDeploy, time.Hour)
	require.NoError(t, err)

	other, err := NewVerifier([]byte(strings.Repeat("x", 32)), 1)
	require.NoError(t, err)
	forged, err := other.WithClock(func() time.Time { return now }).Issue("eve", haltmatrix.OpConfigDeploy, time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory", Issuer: Issuer, Audience: jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		OpClass: haltmatrix.OpConfigDeploy,
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	res := v.Check([]string{alice, aliceAgain, wrongOp, expired, forged, unsigned, "garbage"}, haltmatrix.OpConfigDeploy)
	assert.False(t, res.Satisfied)
	assert.Equal(t, []string{"alice"}, res.Approvers)
	require.Len(t, res.Rejected, 6)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Equal(t, ErrDuplicate.Error(), res.Rejected[0].Reason)
	assert.Equal(t, ErrOpMismatch.Error(), res.Rejected[1].Reason)
	assert.Contains(t, res.Rejected[2].Reason, "expired")
}

func TestIssueValidation(t *testing.T) {
	v := newVerifier(t, 1, time.Now())
	_, err := v.Issue("", haltmatrix.OpConfigDeploy, time.Hour)
	assert.Error(t, err)
	_, err = v.Issue("alice", "launch_missiles", time.Hour)
	assert.Error(t, err)
}

func TestEmptyTokens(t *testing.T) {
	res := newVerifier(t, 1, time.Now()).Check(nil, haltmatrix.OpKeyRotation)
	assert.False(t, res.Satisfied)
	assert.Empty(t, res.Approvers)
}
