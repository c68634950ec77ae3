package audit

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Checkpoint is a signed attestation of a tenant's chain head. Exported
// bundles carry one so a consumer can verify the chain terminates where
// the platform said it did.
type Checkpoint struct {
	TenantID  string    `json:"tenant_id"`
	Sequence  uint64    `json:"sequence"`
	ChainHead string    `json:"chain_head"`
	IssuedAt  time.Time `json:"issued_at"`
	Token     string    `json:"token"`
}

// ErrCheckpointInvalid reports a checkpoint token that fails verification.
var ErrCheckpointInvalid = errors.New("audit: checkpoint verification failed")

// CheckpointSigner signs chain heads with per-tenant keys derived from a
// master secret.
type CheckpointSigner struct {
	secret []byte
	clock  func() time.Time
}

// NewCheckpointSigner creates a signer over the master secret.
func NewCheckpointSigner(secret []byte) *CheckpointSigner {
	return &CheckpointSigner{secret: secret, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (cs *CheckpointSigner) WithClock(clock func() time.Time) *CheckpointSigner {
	cs.clock = clock
	return cs
}

// tenantKey derives the per-tenant HMAC key via HKDF-SHA256.
func (cs *CheckpointSigner) tenantKey(tenantID string) ([]byte, error) {
	r := hkdf.New(sha256.New, cs.secret, []byte("vorion-audit-checkpoint"), []byte(tenantID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("audit: key derivation: %w", err)
	}
	return key, nil
}

// Sign issues a checkpoint for the current chain head of a tenant.
func (cs *CheckpointSigner) Sign(ctx context.Context, store Store, tenantID string) (*Checkpoint, error) {
	last, err := store.Last(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		TenantID:  tenantID,
		ChainHead: GenesisHash,
		IssuedAt:  cs.clock().UTC(),
	}
	if last != nil {
		cp.Sequence = last.SequenceNumber
		cp.ChainHead = last.RecordHash
	}

	key, err := cs.tenantKey(tenantID)
	if err != nil {
		return nil, err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        tenantID,
		"seq":        cp.Sequence,
		"chain_head": cp.ChainHead,
		"iat":        cp.IssuedAt.Unix(),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("audit: sign checkpoint: %w", err)
	}
	cp.Token = signed
	return cp, nil
}

// Verify checks a checkpoint token and that its claims match the record.
func (cs *CheckpointSigner) Verify(cp *Checkpoint) error {
	key, err := cs.tenantKey(cp.TenantID)
	if err != nil {
		return err
	}
	parsed, err := jwt.Parse(cp.Token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return ErrCheckpointInvalid
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ErrCheckpointInvalid
	}
	seq, _ := claims["seq"].(float64)
	iat, _ := claims["iat"].(float64)
	if claims["sub"] != cp.TenantID || claims["chain_head"] != cp.ChainHead ||
		uint64(seq) != cp.Sequence || int64(iat) != cp.IssuedAt.Unix() {
		return ErrCheckpointInvalid
	}
	return nil
}
