package id

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	clierr "github.com/spoutfi/spout-cli/internal/errors"
)

// Ilk is the ledger's 32-byte collateral type identifier: the ticker's ASCII bytes
// left-justified and zero padded.
type Ilk [32]byte

// EncodeIlk left-justifies ticker into 32 bytes. Tickers longer than 32 bytes,
// containing non-ASCII bytes, or containing NUL are rejected.
func EncodeIlk(ticker string) (Ilk, error) {
	var out Ilk
	if len(ticker) > len(out) {
		return out, fmt.Errorf("ilk ticker %q exceeds 32 bytes", ticker)
	}
	for i := 0; i < len(ticker); i++ {
		if ticker[i] == 0 || ticker[i] > 0x7f {
			return out, fmt.Errorf("ilk ticker %q must be printable ascii", ticker)
		}
	}
	copy(out[:], ticker)
	return out, nil
}

// DecodeIlk trims at the first zero byte.
func DecodeIlk(ilk Ilk) string {
	if i := bytes.IndexByte(ilk[:], 0); i >= 0 {
		return string(ilk[:i])
	}
	return string(ilk[:])
}

func (i Ilk) String() string { return DecodeIlk(i) }

func (i Ilk) Hex() string { return "0x" + hex.EncodeToString(i[:]) }

func (i Ilk) IsZero() bool { return i == Ilk{} }

func (i Ilk) MarshalText() ([]byte, error) { return []byte(DecodeIlk(i)), nil }

// ParseIlk accepts either a ticker ("LQD") or a 0x-prefixed 32-byte hex identifier.
func ParseIlk(input string) (Ilk, error) {
	clean := strings.TrimSpace(input)
	if clean == "" {
		return Ilk{}, clierr.New(clierr.CodeUsage, "--ilk is required")
	}
	if strings.HasPrefix(clean, "0x") && len(clean) == 66 {
		buf, err := hex.DecodeString(clean[2:])
		if err != nil {
			return Ilk{}, clierr.Wrap(clierr.CodeUsage, "decode ilk hex", err)
		}
		var out Ilk
		copy(out[:], buf)
		if out.IsZero() {
			return Ilk{}, clierr.New(clierr.CodeUsage, "ilk identifier is empty")
		}
		return out, nil
	}
	out, err := EncodeIlk(strings.ToUpper(clean))
	if err != nil {
		return Ilk{}, clierr.Wrap(clierr.CodeUsage, "encode ilk", err)
	}
	return out, nil
}
