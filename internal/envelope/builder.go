// Package envelope implements the outer/inner envelope assembly and
// parsing described in spec §4.4: the request side merges standard and
// endpoint-specific inner fields, encrypts them, signs the union, then
// white-box encodes the whole outer JSON object; the response side
// reverses each step.
package envelope

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
	"github.com/Ap3pp3rs94/vehiclecore/internal/signer"
	"github.com/Ap3pp3rs94/vehiclecore/internal/wbcrypto"
)

// KeyMaterial carries the two keys a request needs: the inner-AES key
// (contentKey for authenticated calls, MD5(password) for login) and the
// sign key (MD5(signToken) or MD5(password), same rule).
type KeyMaterial struct {
	InnerKey [16]byte
	SignKey  string
}

// Codec bundles the white-box transport cipher with a fixed Identity so
// callers do not have to thread device fields through every call.
type Codec struct {
	wb       *wbcrypto.Codec
	identity Identity
}

// NewCodec wraps a white-box codec instance with the caller's identity.
func NewCodec(identity Identity) (*Codec, error) {
	wb, err := wbcrypto.New()
	if err != nil {
		return nil, err
	}
	return &Codec{wb: wb, identity: identity}, nil
}

// BuildRequest assembles, encrypts, signs and white-box encodes a full
// request for endpoint, merging innerExtras on top of the standard inner
// fields. identifier is the userId (authenticated calls) or username
// (login). Returns the literal wire JSON string: {"request": "..."}.
func (c *Codec) BuildRequest(identifier string, innerExtras map[string]any, keys KeyMaterial) (string, error) {
	now := time.Now().UTC()
	reqTS := fmt.Sprintf("%d", now.UnixMilli())
	serviceTime := reqTS

	random, err := randomHex32()
	if err != nil {
		return "", err
	}

	inner := map[string]any{
		"deviceType":  c.identity.DeviceType,
		"imeiMD5":     imeiMD5(c.identity.Device.IMEI),
		"networkType": c.identity.NetworkType,
		"random":      random,
		"timeStamp":   reqTS,
		"version":     c.identity.AppVersion,
	}
	for k, v := range innerExtras {
		inner[k] = v
	}

	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return "", err
	}
	encryData, err := innercrypto.Encrypt(keys.InnerKey, innerJSON)
	if err != nil {
		return "", err
	}

	outer := Outer{
		CountryCode:  c.identity.CountryCode,
		Identifier:   identifier,
		ImeiMD5:      imeiMD5(c.identity.Device.IMEI),
		Language:     c.identity.Language,
		ReqTimestamp: reqTS,
		OSType:       c.identity.OSType,
		IMEI:         c.identity.Device.IMEI,
		MAC:          c.identity.Device.MAC,
		Model:        c.identity.Device.Model,
		SDK:          c.identity.Device.SDK,
		Mod:          c.identity.Device.Mod,
		ServiceTime:  serviceTime,
		EncryData:    encryData,
	}

	signInner := stringifyMap(inner)
	outer.Sign = signer.Sign(signInner, signer.OuterIdentifiers{
		CountryCode:  outer.CountryCode,
		Identifier:   outer.Identifier,
		ImeiMD5:      outer.ImeiMD5,
		Language:     outer.Language,
		ReqTimestamp: outer.ReqTimestamp,
	}, keys.SignKey)

	outer.Checkcode = signer.Checkcode(signer.CheckcodeInputs{
		Identifier:   outer.Identifier,
		ImeiMD5:      outer.ImeiMD5,
		ReqTimestamp: outer.ReqTimestamp,
		ServiceTime:  outer.ServiceTime,
		SignKey:      keys.SignKey,
	})

	outerJSON, err := json.Marshal(outer)
	if err != nil {
		return "", err
	}
	wbText, err := c.wb.EncodeWire(outerJSON)
	if err != nil {
		return "", err
	}

	wire, err := json.Marshal(wireRequest{Request: wbText})
	if err != nil {
		return "", err
	}
	return string(wire), nil
}

func imeiMD5(imei string) string {
	sum := md5.Sum([]byte(imei))
	return hex.EncodeToString(sum[:])
}

func randomHex32() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// stringifyMap converts the inner payload's values to their raw string
// form for signing, matching spec §4.3's "raw string values (no
// URL-encoding)" — numbers and bools render the same as their JSON
// token; nested values are rendered as compact JSON.
func stringifyMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = stringifyValue(v)
	}
	return out
}

func stringifyValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
