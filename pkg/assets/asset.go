package assets

import (
	"btc-bridge/database"
	"btc-bridge/pkg/primitives"
)

const (
	MaxTokenLen     = 32
	MaxTokenNameLen = 32
	MaxDescLen      = 128
)

// Asset describes a registrable token.
type Asset struct {
	Token     primitives.Token
	TokenName string
	Chain     primitives.Chain
	Precision uint16
	Desc      string
}

func (a *Asset) Validate() error {
	if err := ValidateToken(a.Token); err != nil {
		return err
	}
	if len(a.TokenName) == 0 || len(a.TokenName) > MaxTokenNameLen {
		return newErrf(ErrInvalidAsset, "token name length must be 1..%d", MaxTokenNameLen)
	}
	if err := validateDesc(a.Desc); err != nil {
		return err
	}
	return nil
}

func (a *Asset) record(valid bool, registeredAt uint64) *database.AssetRecord {
	return &database.AssetRecord{
		Token:        a.Token,
		TokenName:    a.TokenName,
		Chain:        a.Chain,
		Precision:    a.Precision,
		Desc:         a.Desc,
		Valid:        valid,
		RegisteredAt: registeredAt,
	}
}

// ValidateToken accepts 1 to MaxTokenLen characters out of digits, letters
// and '-', '.', '|', '~'.
func ValidateToken(token primitives.Token) error {
	if len(token) == 0 || len(token) > MaxTokenLen {
		return newErrf(ErrInvalidToken, "token length must be 1..%d", MaxTokenLen)
	}
	for _, c := range []byte(token) {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c == '-' || c == '.' || c == '|' || c == '~':
		default:
			return newErrf(ErrInvalidToken, "invalid token char %q in %q", c, token)
		}
	}
	return nil
}

// descriptions are limited to printable ascii
func validateDesc(desc string) error {
	if len(desc) > MaxDescLen {
		return newErrf(ErrInvalidAsset, "desc longer than %d", MaxDescLen)
	}
	for _, c := range []byte(desc) {
		if c < 0x20 || c > 0x7e {
			return newErrf(ErrInvalidAsset, "desc has non printable char %#x", c)
		}
	}
	return nil
}
