package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

var ErrMissingSecret = errors.New("signing: missing secret")

// Canonicalizer turns a parameter set into the exact string that is signed.
type Canonicalizer interface {
	Canonicalize(Params) (string, error)
}

// Strategy is a gateway's signing rule: what is signed and with which hash.
type Strategy struct {
	Name          string
	Canonicalizer Canonicalizer
	Hash          func() hash.Hash
}

// VNPay signs the sorted query with HMAC-SHA512.
func VNPay(required ...string) Strategy {
	return Strategy{Name: "vnpay", Canonicalizer: SortedQuery{Required: required}, Hash: sha512.New}
}

// MoMo signs a fixed field template with HMAC-SHA256.
func MoMo(fields []string, fixed map[string]string) Strategy {
	return Strategy{Name: "momo", Canonicalizer: Template{Fields: fields, Fixed: fixed}, Hash: sha256.New}
}

// SignedRequest is a callback's parameters plus its detached signature.
type SignedRequest struct {
	Params    Params
	Signature string
}

// Verifier computes and checks HMAC signatures for one gateway.
type Verifier struct {
	strategy Strategy
	secret   []byte
}

func NewVerifier(strategy Strategy, secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if strategy.Hash == nil {
		strategy.Hash = sha512.New
	}
	return &Verifier{strategy: strategy, secret: []byte(secret)}, nil
}

// Canonical exposes the string that Sign would authenticate.
func (v *Verifier) Canonical(p Params) (string, error) {
	return v.strategy.Canonicalizer.Canonicalize(p)
}

// Sign returns the lowercase hex HMAC of the canonical form of p.
func (v *Verifier) Sign(p Params) (string, error) {
	sum, err := v.mac(p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Verify reports whether req.Signature, as lowercase hex, matches req.Params.
// A wrong signature is (false, nil); only malformed input returns an error.
func (v *Verifier) Verify(req SignedRequest) (bool, error) {
	expected, err := v.mac(req.Params)
	if err != nil {
		return false, err
	}
	want := []byte(hex.EncodeToString(expected))
	return hmac.Equal(want, []byte(strings.TrimSpace(req.Signature))), nil
}

func (v *Verifier) mac(p Params) ([]byte, error) {
	canonical, err := v.strategy.Canonicalizer.Canonicalize(p)
	if err != nil {
		return nil, err
	}
	m := hmac.New(v.strategy.Hash, v.secret)
	m.Write([]byte(canonical))
	return m.Sum(nil), nil
}
