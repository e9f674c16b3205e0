package futures

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
)

// params is an insertion-ordered parameter list. Binance signs the exact
// query string it receives, so the canonical string must preserve the
// order keys were added in; url.Values would silently re-sort them.
type params struct {
	keys   []string
	values map[string]string
}

func newParams() *params {
	return &params{values: make(map[string]string)}
}

func (p *params) Set(key, value string) *params {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

func (p *params) SetFloat(key string, v float64) *params {
	return p.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (p *params) SetInt(key string, v int64) *params {
	return p.Set(key, strconv.FormatInt(v, 10))
}

// Encode renders key=value&... in insertion order with URL escaping.
func (p *params) Encode() string {
	buf := make([]byte, 0, 64)
	for i, k := range p.keys {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, url.QueryEscape(k)...)
		buf = append(buf, '=')
		buf = append(buf, url.QueryEscape(p.values[k])...)
	}
	return string(buf)
}

// sign computes the hex HMAC-SHA256 of payload keyed by secret.
// Deterministic: identical payloads and secrets always produce the same
// signature.
func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
