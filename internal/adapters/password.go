package adapters

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const verifyPasswordPath = "vehicle/vehicleswitch/verifyControlPassword"

// VerifyControlPassword drives vehicle/vehicleswitch/verifyControlPassword.
// A wrong PIN surfaces as the same classified transport.APIError
// (ControlPasswordWrong/ControlPasswordLocked, spec.md §7) the
// remoteControl trigger raises on 5005/5006 — callers that need to
// engage the orchestrator's lockout state should inspect the returned
// error's code themselves, this adapter does not track lockouts.
func VerifyControlPassword(ctx context.Context, caller Caller, vin, pin string) error {
	_, err := caller.PostSecure(ctx, verifyPasswordPath, map[string]any{
		"vin":        vin,
		"commandPwd": md5Upper(pin),
	})
	return err
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
