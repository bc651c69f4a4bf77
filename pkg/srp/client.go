package srp

import (
	"crypto/sha256"
	"math/big"
)

// Client-side derivations. The server never calls these for real logins;
// they exist so tests and tooling can drive full handshakes against the
// server math.

// computeX derives the private key x = H(salt, H(identity ":" password)).
func computeX(identity, password string, salt []byte) *big.Int {
	inner := sha256.New()
	inner.Write([]byte(identity))
	inner.Write([]byte(":"))
	inner.Write([]byte(password))

	outer := sha256.New()
	outer.Write(salt)
	outer.Write(inner.Sum(nil))

	return new(big.Int).SetBytes(outer.Sum(nil))
}

// ComputeVerifier derives v = g^x mod N for registration.
func ComputeVerifier(identity, password string, salt []byte) []byte {
	x := computeX(identity, password, salt)

	return new(big.Int).Exp(groupG, x, groupN).Bytes()
}

// ClientPublic derives A = g^a mod N from a client ephemeral secret.
func ClientPublic(clientSecret []byte) []byte {
	a := new(big.Int).SetBytes(clientSecret)

	return new(big.Int).Exp(groupG, a, groupN).Bytes()
}

// ClientSessionKey derives K = H(S) on the client:
// S = (B - k*g^x)^(a + u*x) mod N.
func ClientSessionKey(identity, password string, salt, clientSecret, clientPublic, serverPublic []byte) []byte {
	x := computeX(identity, password, salt)
	a := new(big.Int).SetBytes(clientSecret)
	B := new(big.Int).SetBytes(serverPublic)
	u := ComputeU(clientPublic, serverPublic)
	k := ComputeK()

	gx := new(big.Int).Exp(groupG, x, groupN)
	kgx := new(big.Int).Mul(k, gx)
	kgx.Mod(kgx, groupN)

	// big.Int.Mod is Euclidean, so the difference normalizes into [0, N).
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, groupN)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)

	S := new(big.Int).Exp(base, exp, groupN)
	sum := sha256.Sum256(S.Bytes())

	return sum[:]
}
