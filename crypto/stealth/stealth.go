// Package stealth implements one-time receiving addresses over ed25519, the
// curve of Solana accounts. A sender derives a fresh address for a recipient
// from the recipient's public spending and viewing keys, and the recipient
// finds and spends those payments with the matching private keys.
//
// With recipient keys (s, S=s·G) and (v, V=v·G) and a sender ephemeral key
// (r, R=r·G):
//
//	shared  = r·V = v·R
//	h       = H(shared) mod l
//	address = S + h·G
//	key     = s + h mod l
//	viewTag = H'(shared)[:2]
package stealth

import (
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	// ViewTagSize is the number of bytes of the shared secret hash published
	// with every announcement.
	ViewTagSize = 2

	sharedSecretDomain = "shieldpay/stealth/shared"
	viewTagDomain      = "shieldpay/stealth/viewtag"
)

var (
	// ErrInvalidPublicKey is returned when a public key is not a valid
	// ed25519 point.
	ErrInvalidPublicKey = fmt.Errorf("invalid ed25519 public key")
	// ErrInvalidPrivateKey is returned when a private key is not a canonical
	// ed25519 scalar.
	ErrInvalidPrivateKey = fmt.Errorf("invalid ed25519 private scalar")
)

// ViewTag is the short scan hint attached to a stealth payment. Equal tags do
// not imply ownership, different tags always imply it is not ours.
type ViewTag [ViewTagSize]byte

// PrivateKey is a canonical little-endian ed25519 scalar. It is not an
// RFC 8032 seed: stealth keys are sums of scalars and have no seed.
type PrivateKey [32]byte

// String returns the base58 encoding of the scalar.
func (k PrivateKey) String() string {
	return base58.Encode(k[:])
}

// PrivateKeyFromBase58 decodes a base58 encoded scalar.
func PrivateKeyFromBase58(s string) (PrivateKey, error) {
	var k PrivateKey
	b, err := base58.Decode(s)
	if err != nil {
		return k, err
	}
	if len(b) != len(k) {
		return k, ErrInvalidPrivateKey
	}
	copy(k[:], b)
	if _, err := k.scalar(); err != nil {
		return PrivateKey{}, err
	}
	return k, nil
}

// PublicKey returns the ed25519 point k·G as a Solana public key.
func (k PrivateKey) PublicKey() (solana.PublicKey, error) {
	s, err := k.scalar()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return pointToKey(new(edwards25519.Point).ScalarBaseMult(s)), nil
}

func (k PrivateKey) scalar() (*edwards25519.Scalar, error) {
	s, err := edwards25519.NewScalar().SetCanonicalBytes(k[:])
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return s, nil
}

// Keys is the long-term key set of a recipient.
type Keys struct {
	SpendingKey       PrivateKey
	ViewingKey        PrivateKey
	SpendingPublicKey solana.PublicKey
	ViewingPublicKey  solana.PublicKey
}

// GenerateKeys creates a new random recipient key set.
func GenerateKeys() (*Keys, error) {
	s, err := randomScalar()
	if err != nil {
		return nil, err
	}
	v, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &Keys{
		SpendingKey:       scalarToKey(s),
		ViewingKey:        scalarToKey(v),
		SpendingPublicKey: pointToKey(new(edwards25519.Point).ScalarBaseMult(s)),
		ViewingPublicKey:  pointToKey(new(edwards25519.Point).ScalarBaseMult(v)),
	}, nil
}

// StealthAddress is the output of a sender-side derivation. The address
// receives the funds, the ephemeral key and the tag are announced.
type StealthAddress struct {
	Address            solana.PublicKey `json:"stealthAddress"`
	EphemeralPublicKey solana.PublicKey `json:"ephemeralPublicKey"`
	ViewTag            ViewTag          `json:"viewTag"`
}

// GenerateStealthAddress derives a one-time address for the recipient
// identified by its spending and viewing public keys. A new ephemeral key is
// drawn on every call, so two calls never return the same address.
func GenerateStealthAddress(spendingPub, viewingPub solana.PublicKey) (*StealthAddress, error) {
	S, err := keyToPoint(spendingPub)
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	V, err := keyToPoint(viewingPub)
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	r, err := randomScalar()
	if err != nil {
		return nil, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r)
	shared := new(edwards25519.Point).ScalarMult(r, V)

	h, err := sharedScalar(shared)
	if err != nil {
		return nil, err
	}
	address := new(edwards25519.Point).Add(S, new(edwards25519.Point).ScalarBaseMult(h))
	return &StealthAddress{
		Address:            pointToKey(address),
		EphemeralPublicKey: pointToKey(R),
		ViewTag:            viewTag(shared),
	}, nil
}

// Announcement is a published stealth payment candidate. Address is optional,
// when present a match also requires the derived address to be equal.
type Announcement struct {
	EphemeralPublicKey solana.PublicKey
	ViewTag            ViewTag
	Address            *solana.PublicKey
}

// Match is a payment owned by the scanning recipient.
type Match struct {
	Index      int              `json:"index"`
	Address    solana.PublicKey `json:"stealthAddress"`
	PrivateKey PrivateKey       `json:"-"`
}

// ScanForPayments checks every (ephemeral key, tag) pair against the viewing
// key. The full stealth address and one-time key are only derived for the
// entries whose tag matches. Malformed ephemeral keys are skipped.
func ScanForPayments(ephemeralKeys []solana.PublicKey, viewTags []ViewTag,
	viewingKey, spendingKey PrivateKey,
) ([]Match, error) {
	if len(ephemeralKeys) != len(viewTags) {
		return nil, fmt.Errorf("got %d ephemeral keys and %d view tags", len(ephemeralKeys), len(viewTags))
	}
	anns := make([]Announcement, len(ephemeralKeys))
	for i := range ephemeralKeys {
		anns[i] = Announcement{EphemeralPublicKey: ephemeralKeys[i], ViewTag: viewTags[i]}
	}
	return ScanAnnouncements(anns, viewingKey, spendingKey)
}

// ScanAnnouncements is ScanForPayments over announcements that may carry the
// published address. For those, a tag match whose recomputed address differs
// is a tag collision and is not reported.
func ScanAnnouncements(anns []Announcement, viewingKey, spendingKey PrivateKey) ([]Match, error) {
	v, err := viewingKey.scalar()
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	s, err := spendingKey.scalar()
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	S := new(edwards25519.Point).ScalarBaseMult(s)

	matches := []Match{}
	for i, ann := range anns {
		R, err := keyToPoint(ann.EphemeralPublicKey)
		if err != nil {
			continue
		}
		shared := new(edwards25519.Point).ScalarMult(v, R)
		if viewTag(shared) != ann.ViewTag {
			continue
		}
		h, err := sharedScalar(shared)
		if err != nil {
			return nil, err
		}
		address := pointToKey(new(edwards25519.Point).Add(S, new(edwards25519.Point).ScalarBaseMult(h)))
		if ann.Address != nil && !ann.Address.Equals(address) {
			continue
		}
		matches = append(matches, Match{
			Index:      i,
			Address:    address,
			PrivateKey: scalarToKey(edwards25519.NewScalar().Add(s, h)),
		})
	}
	return matches, nil
}

// CheckViewTag is the cheap pre-filter: it only recomputes the shared secret
// and compares the tag.
func CheckViewTag(ephemeralPub solana.PublicKey, tag ViewTag, viewingKey PrivateKey) (bool, error) {
	v, err := viewingKey.scalar()
	if err != nil {
		return false, err
	}
	R, err := keyToPoint(ephemeralPub)
	if err != nil {
		return false, err
	}
	return viewTag(new(edwards25519.Point).ScalarMult(v, R)) == tag, nil
}

func sharedScalar(shared *edwards25519.Point) (*edwards25519.Scalar, error) {
	digest := crypto.Keccak512([]byte(sharedSecretDomain), shared.Bytes())
	h, err := edwards25519.NewScalar().SetUniformBytes(digest)
	if err != nil {
		return nil, fmt.Errorf("hash to scalar: %w", err)
	}
	return h, nil
}

func viewTag(shared *edwards25519.Point) ViewTag {
	var tag ViewTag
	copy(tag[:], crypto.Keccak256([]byte(viewTagDomain), shared.Bytes()))
	return tag
}

func randomScalar() (*edwards25519.Scalar, error) {
	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	return edwards25519.NewScalar().SetUniformBytes(seed)
}

func keyToPoint(k solana.PublicKey) (*edwards25519.Point, error) {
	p, err := new(edwards25519.Point).SetBytes(k[:])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return p, nil
}

func pointToKey(p *edwards25519.Point) solana.PublicKey {
	return solana.PublicKeyFromBytes(p.Bytes())
}

func scalarToKey(s *edwards25519.Scalar) PrivateKey {
	var k PrivateKey
	copy(k[:], s.Bytes())
	return k
}
