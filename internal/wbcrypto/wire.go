package wbcrypto

import "encoding/base64"

// wireEncoding is the JSON-safe text encoding layered over the raw
// white-box ciphertext so it can travel inside the `request`/`response`
// string field. Standard base64 (not URL-safe) matches what the vendor's
// own clients emit on the wire.
var wireEncoding = base64.StdEncoding

// EncodeWire white-box encrypts plaintext and returns the JSON-safe text
// form suitable for the envelope's `request` field.
func (c *Codec) EncodeWire(plaintext []byte) (string, error) {
	ct, err := c.Encode(plaintext)
	if err != nil {
		return "", err
	}
	return wireEncoding.EncodeToString(ct), nil
}

// DecodeWire reverses EncodeWire: base64-decodes then white-box decrypts.
func (c *Codec) DecodeWire(text string) ([]byte, error) {
	ct, err := wireEncoding.DecodeString(text)
	if err != nil {
		return nil, err
	}
	return c.Decode(ct)
}
