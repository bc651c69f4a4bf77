// Package srp implements the server side of SRP-6a over the RFC 5054
// 2048-bit group with SHA-256. Values cross the wire hex-encoded; big
// integers are serialized as unpadded big-endian byte strings. Client-side
// helpers exist so tests can drive complete handshakes.
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

const (
	saltBytes      = 16
	ephemeralBytes = 32
)

// GenerateSalt returns a fresh random salt.
func GenerateSalt() ([]byte, error) {
	return randomBytes(saltBytes)
}

// GenerateEphemeralSecret returns a fresh server (or client) ephemeral
// private value.
func GenerateEphemeralSecret() ([]byte, error) {
	return randomBytes(ephemeralBytes)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}

	return b, nil
}

// ComputeK derives the SRP-6a multiplier k = H(N, g).
func ComputeK() *big.Int {
	h := sha256.New()
	h.Write(groupN.Bytes())
	h.Write(groupG.Bytes())

	return new(big.Int).SetBytes(h.Sum(nil))
}

// ComputeU derives the scrambling parameter u = H(A, B).
func ComputeU(clientPublic, serverPublic []byte) *big.Int {
	h := sha256.New()
	h.Write(clientPublic)
	h.Write(serverPublic)

	return new(big.Int).SetBytes(h.Sum(nil))
}

// ComputeB derives the server public ephemeral B = k*v + g^b mod N.
func ComputeB(serverSecret, verifier []byte) []byte {
	k := ComputeK()
	v := new(big.Int).SetBytes(verifier)
	b := new(big.Int).SetBytes(serverSecret)

	gb := new(big.Int).Exp(groupG, b, groupN)
	kv := new(big.Int).Mul(k, v)

	B := new(big.Int).Add(kv, gb)
	B.Mod(B, groupN)

	return B.Bytes()
}

// ServerSessionKey derives K = H(S) with S = (A * v^u)^b mod N.
func ServerSessionKey(clientPublic, verifier, serverSecret []byte) []byte {
	A := new(big.Int).SetBytes(clientPublic)
	v := new(big.Int).SetBytes(verifier)
	b := new(big.Int).SetBytes(serverSecret)
	u := ComputeU(clientPublic, ComputeB(serverSecret, verifier))

	vu := new(big.Int).Exp(v, u, groupN)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, groupN)

	S := new(big.Int).Exp(base, b, groupN)
	sum := sha256.Sum256(S.Bytes())

	return sum[:]
}

// ComputeM1 derives the client proof
// M1 = H(H(N) xor H(g), H(I), salt, A, B, K).
func ComputeM1(identity string, salt, clientPublic, serverPublic, sessionKey []byte) []byte {
	hN := sha256.Sum256(groupN.Bytes())
	hg := sha256.Sum256(groupG.Bytes())

	xor := make([]byte, len(hN))
	for i := range hN {
		xor[i] = hN[i] ^ hg[i]
	}

	hI := sha256.Sum256([]byte(identity))

	h := sha256.New()
	h.Write(xor)
	h.Write(hI[:])
	h.Write(salt)
	h.Write(clientPublic)
	h.Write(serverPublic)
	h.Write(sessionKey)

	return h.Sum(nil)
}

// ComputeM2 derives the server proof M2 = H(A, M1, K).
func ComputeM2(clientPublic, m1, sessionKey []byte) []byte {
	h := sha256.New()
	h.Write(clientPublic)
	h.Write(m1)
	h.Write(sessionKey)

	return h.Sum(nil)
}
