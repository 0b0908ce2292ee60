package envelope

import (
	"encoding/json"
	"errors"

	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
)

// ErrMalformed wraps any structural failure while parsing a response:
// bad top-level JSON, bad white-box padding, bad outer JSON. These are
// ProtocolError per spec §7 — never retried, always surfaced.
var ErrMalformed = errors.New("envelope: malformed response")

// Parsed is the result of ParseResponse: the server's status code and
// message, plus the decrypted respondData JSON (nil if the server sent
// none).
type Parsed struct {
	Code        int
	Message     string
	RespondData json.RawMessage
}

// ParseResponse reverses BuildRequest's encoding: white-box decode the
// wire body, parse the outer JSON, then inner-AES decrypt respondData
// (if present) with contentKey.
func (c *Codec) ParseResponse(wireBody []byte, contentKey [16]byte) (Parsed, error) {
	var wr wireResponse
	if err := json.Unmarshal(wireBody, &wr); err != nil {
		return Parsed{}, joinMalformed(err)
	}
	if wr.Response == "" {
		return Parsed{}, ErrMalformed
	}
	plain, err := c.wb.DecodeWire(wr.Response)
	if err != nil {
		return Parsed{}, joinMalformed(err)
	}

	var ro ResponseOuter
	if err := json.Unmarshal(plain, &ro); err != nil {
		return Parsed{}, joinMalformed(err)
	}

	result := Parsed{Code: ro.Code, Message: ro.Message}
	if ro.RespondData == "" {
		return result, nil
	}

	decrypted, err := innercrypto.Decrypt(contentKey, ro.RespondData)
	if err != nil {
		return Parsed{}, joinMalformed(err)
	}
	result.RespondData = json.RawMessage(decrypted)
	return result, nil
}

func joinMalformed(err error) error {
	return errors.Join(ErrMalformed, err)
}
