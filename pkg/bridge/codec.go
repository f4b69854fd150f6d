package bridge

import (
	"bytes"
	"fmt"

	"btc-bridge/pkg/primitives"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// AccountCodec decodes the payload of an OP_RETURN output into the account
// the sending address binds to and an optional channel name.
type AccountCodec interface {
	DecodeAccount(data []byte) (primitives.AccountID, string, error)
}

const (
	// DefaultAddressVersion is the ss58 address version of the runtime.
	DefaultAddressVersion = 44

	ss58ChecksumLen = 2
	channelSep      = ':'
)

var ss58Prefix = []byte("SS58PRE")

// SS58Codec reads "<ss58 account>[:channel]": a base58 string of a version
// byte, the 32 byte account and a blake2b checksum.
type SS58Codec struct {
	Version byte
}

func (c SS58Codec) DecodeAccount(data []byte) (primitives.AccountID, string, error) {
	var id primitives.AccountID

	addr, channel := data, []byte(nil)
	if i := bytes.IndexByte(data, channelSep); i >= 0 {
		addr, channel = data[:i], data[i+1:]
	}

	raw := base58.Decode(string(addr))
	if len(raw) != 1+len(id)+ss58ChecksumLen {
		return id, "", fmt.Errorf("account payload has %d bytes", len(raw))
	}
	if raw[0] != c.Version {
		return id, "", fmt.Errorf("account version %d, want %d", raw[0], c.Version)
	}

	body := raw[:1+len(id)]
	sum := ss58Checksum(body)
	if !bytes.Equal(sum[:ss58ChecksumLen], raw[1+len(id):]) {
		return id, "", fmt.Errorf("bad account checksum")
	}

	copy(id[:], body[1:])
	return id, string(channel), nil
}

// EncodeAccount is the inverse of DecodeAccount.
func (c SS58Codec) EncodeAccount(id primitives.AccountID, channel string) []byte {
	body := append([]byte{c.Version}, id[:]...)
	sum := ss58Checksum(body)
	out := []byte(base58.Encode(append(body, sum[:ss58ChecksumLen]...)))
	if channel != "" {
		out = append(out, channelSep)
		out = append(out, channel...)
	}
	return out
}

func ss58Checksum(body []byte) [blake2b.Size]byte {
	return blake2b.Sum512(append(append([]byte(nil), ss58Prefix...), body...))
}
