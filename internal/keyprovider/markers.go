package keyprovider

// PEM markers used by normalization and by persona/keystore type
// detection, kept as named constants rather than scattered literal
// strings.
const (
	pubBegin = "-----BEGIN PUBLIC KEY-----"
	pubEnd   = "-----END PUBLIC KEY-----"
)

// Reserved sentinels. They are never
// valid on-disk directory names; persona and keystore treat them as
// opaque tokens supplied by the message layer.
const (
	RSAKexID = "rsa_kex_id"
	ECKexID  = "ec_kex_id"
)
