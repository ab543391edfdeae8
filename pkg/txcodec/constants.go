package txcodec

const (
	// TxVersion is the version carried by regular transfer transactions.
	TxVersion uint16 = 1
	// CreateTokenTxVersion marks a transaction that creates a new token.
	// Create-token transactions carry no token uid array; the token being
	// created is implicit and described by the token info block.
	CreateTokenTxVersion uint16 = 2

	// TokenAuthorityMask flags an output as an authority output. When set,
	// the output value field is a bitmask of granted authorities instead of
	// a monetary amount.
	TokenAuthorityMask uint8 = 0x80
	// TokenIndexMask extracts the token index from a token-data byte.
	TokenIndexMask uint8 = 0x7f

	// AuthorityMint and AuthorityMelt are the authority bits carried in the
	// value field of an authority output. Untyped so they fit both Amount
	// and raw uint64 contexts.
	AuthorityMint = 0x01
	AuthorityMelt = 0x02
	AuthorityAll  = AuthorityMint | AuthorityMelt

	// MaxOutputValue32 is the largest value encoded in the short 4-byte
	// form. Anything above switches to the 8-byte negated form.
	MaxOutputValue32 = 0x7fffffff
	// MaxOutputValue is the largest value an output may carry.
	MaxOutputValue = 1<<63 - 1

	// MaxParents is the maximum number of parent hashes a transaction
	// confirms.
	MaxParents = 2

	// TokenInfoVersion is the version byte of the token creation info block.
	TokenInfoVersion uint8 = 1

	MaxTokenNameLen   = 30
	MaxTokenSymbolLen = 5
)

// HashSize is the byte length of transaction and token identifiers.
const HashSize = 32

// NativeTokenID identifies the network's native token in API payloads and
// store keys. The native token never appears in a transaction's token uid
// array; it is always token index 0.
const NativeTokenID = "00"
