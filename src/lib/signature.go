package lib

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

var (
	ErrMissingSecret    = errors.New("gateway signing secret is not configured")
	ErrMalformedParams  = errors.New("malformed parameters for signing")
	ErrInvalidSignature = errors.New("invalid gateway signature")
)

const checkMacField = "CheckMacValue"

var macUnescaper = strings.NewReplacer(
	"%21", "!",
	"%28", "(",
	"%29", ")",
	"%2a", "*",
)

// CheckMacValue computes the card gateway MAC over params. The CheckMacValue
// entry itself is never part of the signed string.
func CheckMacValue(params map[string]string, hashKey, hashIV string) (string, error) {
	if hashKey == "" || hashIV == "" {
		return "", ErrMissingSecret
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "" {
			return "", ErrMalformedParams
		}
		if k == checkMacField {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", ErrMalformedParams
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if a == b {
			return keys[i] < keys[j]
		}
		return a < b
	})

	var sb strings.Builder
	sb.WriteString("HashKey=")
	sb.WriteString(hashKey)
	for _, k := range keys {
		sb.WriteByte('&')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString("&HashIV=")
	sb.WriteString(hashIV)

	// QueryEscape already renders spaces as '+'.
	encoded := strings.ToLower(url.QueryEscape(sb.String()))
	encoded = macUnescaper.Replace(encoded)

	sum := sha256.Sum256([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// VerifyCheckMacValue recomputes the MAC and compares it in constant time.
func VerifyCheckMacValue(received string, params map[string]string, hashKey, hashIV string) bool {
	if received == "" {
		return false
	}
	expected, err := CheckMacValue(params, hashKey, hashIV)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(received)), []byte(expected)) == 1
}

// LinePaySignature is base64(HMAC-SHA256(secret, secret+uri+body+nonce)).
func LinePaySignature(secret, uri, body, nonce string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	if uri == "" || nonce == "" {
		return "", ErrMalformedParams
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(secret + uri + body + nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// RedactParams returns a copy of params safe to write to logs.
func RedactParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k == checkMacField {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
