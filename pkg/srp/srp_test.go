package srp_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclabs/arcgate/pkg/srp"
)

// The hex vectors below pin the group, hash, and encoding against the
// reference web client. Any change to the group constant, the digest, or
// the byte serialization breaks them loudly instead of producing
// diagnostically expensive proof mismatches.

const (
	vectorVerifier = "86f7b7624769fdc576a7cce7186c5ac17b0f69818c621af7fc8baaa8b7db0587c77b2e350d7c0a4dd1052058b822089bec4d8b32923ca01de881d2d2e25b49d2cef9e1a52cf313a6c361b90dc1a35360cb1ccf97bd77053ff2bfd4f4531bbfb58f06c8600fcfec3da6237350619de894666283faf5f449e5cf38b699e33726c9ce7eb6702cb06a8a08a0ba6c48b0e3cc627b5d2c2faf5e33d77024b4fc93b1001aa819ba4ff1c83aea110cb7a764b0cac25bd1a4a75c3ccf21df43048f076089682ce08ce8ec8918b34dd719098b7bf2ac5fdff4097c3cbbf91ba12d0dc189c4ccae0947b2656d9f74a72c3a3d486f9f6e8db3ff999be43bbac6c5f5a3cd4eda"

	vectorClientPublic = "5029d310534ae41ca45b840f3e742879e999ce3aa34216063a1a30978d7ea4cbc8cd73287d065837a168b945754a7d9ef7f0b05abbe530b327e2d4e6006ead9fdfa71f91484272e53ef926422c19fb84dc1f8c2f484da029612f36f2ee8b296b9b86d46ca153d14c8ca46e515d365539f8d62a2fead86efb20e8cb0b12a68028968e90452ba3942f0d08f435741aa8a46a158663dc2e7719b614164c862511d9d15a51bafbd363f6dcf20083c16fddf40d3a6fffade10f566138ac63f8f8735d967ac7218a83c4fc1d5a696df8fe43a832cc95eed53d7d2e69583178a6d1df23830d1316d6281a8b5cb9f9cbc2a5e820e39525ffb4c6ebd227a53ce5f5abdc30"

	vectorServerSecret = "b3b1e7b5e15258e7b0422bc7ebe1ac944ad36b1b0df49b4898e8145aaea64391"

	vectorServerPublic = "132e13eba3b32d5eae53a78149ac22a7d20924e8800af68c95f1f1a104064f96047e8659ea6d25fd9217bd41331042ec080844b6af08d5c85c8cf67b1e2d5523368fab95b3cad74606a4938ad5d89ca5c179f92145ccebb27e3ed328e3d7fc2a8f7d996be59e77df8b06c27a0428d6854d657c0f0aa29c6352e56b31da669b03d43e53c187a84ca9ae52a2001121d7e5f925c731212bcbd97335242828d50e9007c4e91c87b6dfbe14a0006558230ef54379f3d6281f0676940e2359230de4e87f7a850459318990ada910dc1aa4821dde4dedc19b5fc408f233998b3d923463f90e9638f28e75c7e7e0258fc778a4446bff314c8e6cd1dba8351735c8ab81e6"

	vectorSessionKey = "ba22fca411d0b150fd7fe84b8981512c05251df092f97a468380eb1796c69f06"

	vectorSalt = "c71831de4be151915261ae1a24127846ce0117c58d05c3b792424cabce69c052"

	vectorM1 = "d8e05194652688047c0acd1785fb793d2c8eca81dbd7de7aede00a4f78741ae6"
)

func fromHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func TestComputeK_Pinned(t *testing.T) {
	k := srp.ComputeK()

	assert.Equal(t,
		"4cba3fb2923e01fb263ddbbb185a01c131c638f2561942e437727e02ca3c266d",
		hex.EncodeToString(k.Bytes()),
	)
}

func TestComputeB_Pinned(t *testing.T) {
	B := srp.ComputeB(
		fromHex(t, vectorServerSecret),
		fromHex(t, vectorVerifier),
	)

	assert.Equal(t, vectorServerPublic, hex.EncodeToString(B))
}

func TestServerSessionKey_Pinned(t *testing.T) {
	K := srp.ServerSessionKey(
		fromHex(t, vectorClientPublic),
		fromHex(t, vectorVerifier),
		fromHex(t, vectorServerSecret),
	)

	assert.Equal(t, vectorSessionKey, hex.EncodeToString(K))
}

func TestComputeM1_Pinned(t *testing.T) {
	m1 := srp.ComputeM1(
		"test@example.com",
		fromHex(t, vectorSalt),
		fromHex(t, vectorClientPublic),
		fromHex(t, vectorServerPublic),
		fromHex(t, vectorSessionKey),
	)

	assert.Equal(t, vectorM1, hex.EncodeToString(m1))
}

func TestFullHandshake(t *testing.T) {
	const (
		identity = "alice@example.com"
		password = "correct horse battery staple"
	)

	// Registration: client derives salt + verifier.
	salt, err := srp.GenerateSalt()
	require.NoError(t, err)

	verifier := srp.ComputeVerifier(identity, password, salt)

	// Login leg A: both sides generate ephemerals.
	clientSecret, err := srp.GenerateEphemeralSecret()
	require.NoError(t, err)

	serverSecret, err := srp.GenerateEphemeralSecret()
	require.NoError(t, err)

	A := srp.ClientPublic(clientSecret)
	B := srp.ComputeB(serverSecret, verifier)

	// Both sides derive the same session key independently.
	clientK := srp.ClientSessionKey(
		identity, password, salt, clientSecret, A, B,
	)
	serverK := srp.ServerSessionKey(A, verifier, serverSecret)
	require.Equal(t, serverK, clientK)

	// Login leg B: proofs match.
	clientM1 := srp.ComputeM1(identity, salt, A, B, clientK)
	serverM1 := srp.ComputeM1(identity, salt, A, B, serverK)
	assert.Equal(t, serverM1, clientM1)

	m2 := srp.ComputeM2(A, serverM1, serverK)
	assert.Len(t, m2, 32)
}

func TestWrongPassword_KeyMismatch(t *testing.T) {
	const identity = "bob@example.com"

	salt, err := srp.GenerateSalt()
	require.NoError(t, err)

	verifier := srp.ComputeVerifier(identity, "right password", salt)

	clientSecret, err := srp.GenerateEphemeralSecret()
	require.NoError(t, err)

	serverSecret, err := srp.GenerateEphemeralSecret()
	require.NoError(t, err)

	A := srp.ClientPublic(clientSecret)
	B := srp.ComputeB(serverSecret, verifier)

	clientK := srp.ClientSessionKey(
		identity, "wrong password", salt, clientSecret, A, B,
	)
	serverK := srp.ServerSessionKey(A, verifier, serverSecret)

	assert.NotEqual(t, serverK, clientK)
}
