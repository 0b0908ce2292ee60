// Package signer implements the canonical-sort request signing scheme
// (spec §4.3): a union of inner fields and five outer identifiers, sorted
// lexicographically by key, concatenated as raw `k=v` pairs, SHA-1'd with
// the session's sign key appended, plus a separate MD5 checkcode over a
// fixed concatenation of outer fields.
package signer

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// OuterIdentifiers are the five outer envelope fields folded into the
// signature input alongside the inner field map.
type OuterIdentifiers struct {
	CountryCode    string
	Identifier     string
	ImeiMD5        string
	Language       string
	ReqTimestamp   string
}

// Sign computes the canonical-sort SHA-1 signature over inner ∪ outer,
// returning upper-hex. signKey is MD5(signToken) for authenticated calls
// or MD5(password) for the login call; it is the caller's responsibility
// to pick the right one (session.New derives the session key; the login
// call derives its key with SignKeyFromToken below).
func Sign(inner map[string]string, outer OuterIdentifiers, signKey string) string {
	union := make(map[string]string, len(inner)+5)
	for k, v := range inner {
		union[k] = v
	}
	union["countryCode"] = outer.CountryCode
	union["identifier"] = outer.Identifier
	union["imeiMD5"] = outer.ImeiMD5
	union["language"] = outer.Language
	union["reqTimestamp"] = outer.ReqTimestamp

	keys := make([]string, 0, len(union))
	for k := range union {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(union[k])
	}
	sb.WriteString("&key=")
	sb.WriteString(signKey)

	sum := sha1.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CheckcodeInputs are the outer fields the checkcode digest is computed
// over, in the fixed order spec.md §4.3 describes.
type CheckcodeInputs struct {
	Identifier   string
	ImeiMD5      string
	ReqTimestamp string
	ServiceTime  string
	SignKey      string
}

// Checkcode computes MD5 over the literal concatenation (no delimiter) of
// identifier, imeiMD5, reqTimestamp, serviceTime, signKey — upper-hex.
func Checkcode(in CheckcodeInputs) string {
	raw := in.Identifier + in.ImeiMD5 + in.ReqTimestamp + in.ServiceTime + in.SignKey
	sum := md5.Sum([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SignKeyFromToken computes MD5(token) lower-hex, the common derivation
// used for both signToken->signKey (authenticated calls) and
// password->signKey (login call).
func SignKeyFromToken(token string) string {
	sum := md5.Sum([]byte(token))
	return fmt.Sprintf("%x", sum)
}
