package chain

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// DomainRecord is one key/value record of an on-chain domain.
type DomainRecord struct {
	Key   string
	Value string
}

// Commitment is the chain's view of an address's PQ key.
type Commitment struct {
	Linked bool
	Scheme string
	// PubKeyHash is the normalized lowercase hex SHA-256 of the linked public key.
	PubKeyHash string
}

// Coin is an amount of one denomination. Amount is a base-10 integer string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// String formats the coin as "<amount><denom>".
func (c Coin) String() string {
	return c.Amount + c.Denom
}

// Int parses Amount. Blank amounts are zero.
func (c Coin) Int() (*big.Int, error) {
	s := strings.TrimSpace(c.Amount)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid coin amount %q", c.Amount)
	}
	return n, nil
}

// Params are the PQC module parameters relevant to linking.
type Params struct {
	// MinBalanceForLink is nil when the chain sets no minimum.
	MinBalanceForLink *Coin
	PowDifficultyBits int
}

// LinkMsg links a PQ public key to an address.
type LinkMsg struct {
	Address  string `json:"address"`
	Scheme   string `json:"scheme"`
	PubKey   []byte `json:"pubKey"`
	PowNonce []byte `json:"powNonce"`
}

// Fee is a transaction fee.
type Fee struct {
	Amount []Coin `json:"amount"`
	Gas    string `json:"gas"`
}

// ZeroFeeGas is the gas limit attached to zero-fee link transactions.
const ZeroFeeGas = "250000"

// ZeroFee returns the fee policy for PQ link transactions: no coins, fixed gas.
func ZeroFee() Fee {
	return Fee{Amount: []Coin{}, Gas: ZeroFeeGas}
}

// TxResult is the outcome of a broadcast.
type TxResult struct {
	Code   uint32
	RawLog string
	TxHash string
}

// NormalizeHash canonicalizes an on-chain key hash. Hex of at least 32
// characters is lowercased; otherwise base64 is decoded and re-encoded as
// hex; anything else is lowercased as-is.
func NormalizeHash(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	if len(raw) >= 32 && isHex(raw) {
		return strings.ToLower(raw)
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(raw); err == nil && len(b) > 0 {
			return hex.EncodeToString(b)
		}
	}
	return strings.ToLower(raw)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// flexUint decodes an unsigned integer sent either as a JSON number or as a
// decimal string, which is how proto3 JSON renders 64-bit fields.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s", data)
	}
	*f = flexUint(n)
	return nil
}

// recordValue accepts a plain string or an object carrying the gateway URL
// in one of baseUrl, endpoint or url.
type recordValue string

func (v *recordValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = recordValue(strings.TrimSpace(s))
		return nil
	}

	var obj struct {
		BaseURL  string `json:"baseUrl"`
		Endpoint string `json:"endpoint"`
		URL      string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		*v = ""
		return nil
	}
	for _, c := range []string{obj.BaseURL, obj.Endpoint, obj.URL} {
		if c = strings.TrimSpace(c); c != "" {
			*v = recordValue(c)
			return nil
		}
	}
	*v = ""
	return nil
}

type domainRecordJSON struct {
	Key   string      `json:"key"`
	Value recordValue `json:"value"`
}

type domainResponse struct {
	Domain *struct {
		Records []domainRecordJSON `json:"records"`
	} `json:"domain"`
	Records []domainRecordJSON `json:"records"`
}

type accountJSON struct {
	Scheme       string `json:"scheme"`
	SchemeName   string `json:"schemeName"`
	PubKeyHash   string `json:"pub_key_hash"`
	PubKeyHashCC string `json:"pubKeyHash"`
	PubKey       string `json:"pub_key"`
	PubKeyCC     string `json:"pubKey"`
}

func (a accountJSON) commitment() Commitment {
	hash := firstNonEmpty(a.PubKeyHash, a.PubKeyHashCC, a.PubKey, a.PubKeyCC)
	c := Commitment{
		Scheme:     firstNonEmpty(a.Scheme, a.SchemeName),
		PubKeyHash: NormalizeHash(hash),
	}
	c.Linked = c.PubKeyHash != ""
	return c
}

type accountResponse struct {
	Account *accountJSON `json:"account"`
	accountJSON
}

type paramsJSON struct {
	MinBalanceForLink   *Coin    `json:"min_balance_for_link"`
	MinBalanceForLinkCC *Coin    `json:"minBalanceForLink"`
	PowDifficultyBits   flexUint `json:"pow_difficulty_bits"`
	PowDifficultyBitsCC flexUint `json:"powDifficultyBits"`
}

type paramsResponse struct {
	Params *paramsJSON `json:"params"`
	paramsJSON
}

func (p paramsJSON) params() Params {
	out := Params{PowDifficultyBits: int(p.PowDifficultyBits)}
	if out.PowDifficultyBits == 0 {
		out.PowDifficultyBits = int(p.PowDifficultyBitsCC)
	}
	min := p.MinBalanceForLink
	if min == nil {
		min = p.MinBalanceForLinkCC
	}
	if min != nil && min.Denom != "" && min.Amount != "" {
		c := *min
		out.MinBalanceForLink = &c
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
