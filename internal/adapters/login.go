package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
	"github.com/Ap3pp3rs94/vehiclecore/internal/session"
	"github.com/Ap3pp3rs94/vehiclecore/internal/signer"
)

// LoginCaller is the transport.Transport method this adapter drives.
// Login is signed with key material derived straight from the
// password, since there is no session yet to carry contentKey/signKey.
type LoginCaller interface {
	Login(ctx context.Context, path, username string, innerExtras map[string]any, keys envelope.KeyMaterial) (envelope.Parsed, error)
}

const loginPath = "account/login"

type loginToken struct {
	UserID     string `json:"userId"`
	SignToken  string `json:"signToken"`
	EncryToken string `json:"encryToken"`
}

type loginBody struct {
	Token loginToken `json:"token"`
}

// Login drives account/login and derives the resulting session, per
// spec.md §8 scenario 1: signToken and encryToken come back as part of
// respondData and feed session.New's MD5 derivations directly.
func Login(ctx context.Context, caller LoginCaller, username, password string, ttl time.Duration) (session.Session, error) {
	keys := envelope.KeyMaterial{
		InnerKey: innercrypto.KeyFromPassword(password),
		SignKey:  signer.SignKeyFromToken(password),
	}
	parsed, err := caller.Login(ctx, loginPath, username, map[string]any{"password": password}, keys)
	if err != nil {
		return session.Session{}, err
	}
	if len(parsed.RespondData) == 0 {
		return session.Session{}, fmt.Errorf("adapters: login: empty respondData")
	}
	var body loginBody
	if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
		return session.Session{}, fmt.Errorf("adapters: login: parse response: %w", err)
	}
	if body.Token.UserID == "" {
		return session.Session{}, fmt.Errorf("adapters: login: response missing userId")
	}
	return session.New(body.Token.UserID, body.Token.SignToken, body.Token.EncryToken, ttl), nil
}
