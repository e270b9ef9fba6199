package stealth

import (
	"crypto/sha512"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
)

const nonceDomain = "shieldpay/stealth/nonce"

// Sign produces an RFC 8032 compatible ed25519 signature with a raw scalar
// key, so that one-time stealth keys can sign Solana transactions. The result
// verifies with crypto/ed25519 against k.PublicKey(). The nonce prefix is
// derived from the scalar itself since stealth keys have no seed.
func Sign(k PrivateKey, message []byte) (solana.Signature, error) {
	a, err := k.scalar()
	if err != nil {
		return solana.Signature{}, err
	}
	A := new(edwards25519.Point).ScalarBaseMult(a).Bytes()

	prefix := sha512.Sum512(append([]byte(nonceDomain), k[:]...))
	rh := sha512.New()
	rh.Write(prefix[:32])
	rh.Write(message)
	r, err := edwards25519.NewScalar().SetUniformBytes(rh.Sum(nil))
	if err != nil {
		return solana.Signature{}, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	kh := sha512.New()
	kh.Write(R)
	kh.Write(A)
	kh.Write(message)
	challenge, err := edwards25519.NewScalar().SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return solana.Signature{}, err
	}
	S := edwards25519.NewScalar().MultiplyAdd(challenge, a, r)

	var sig solana.Signature
	copy(sig[:32], R)
	copy(sig[32:], S.Bytes())
	return sig, nil
}
