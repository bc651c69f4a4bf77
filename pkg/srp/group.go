package srp

import "math/big"

// groupHex is the 2048-bit prime from RFC 5054 appendix A. The generator
// is 2. Both sides of the protocol are pinned to this group, SHA-256, and
// unpadded big-endian byte encoding; hex strings on the wire.
const groupHex = "AC6BDB41324A9A9BF166DE5E1389582FAF72B665" +
	"1987EE07FC3192943DB56050A37329CBB4A099ED8193E0757767A13DD52312AB" +
	"4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095179A163AB3661A05FB" +
	"D5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747359D041" +
	"D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B907" +
	"8717461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDB" +
	"F52FB3786160279004E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3" +
	"A8D0C38271AE35F8E9DBFBB694B5C803D89F7AE435DE236D525F54759B65E372" +
	"FCD68EF20FA7111F9E4AFF73"

var (
	groupN = mustParseHex(groupHex)
	groupG = big.NewInt(2)
)

func mustParseHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: invalid group constant")
	}

	return n
}
