package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ap3pp3rs94/vehiclecore/internal/push"
)

const emqBrokerPath = "app/emqAuth/getEmqBrokerIp"

// EmqResolver implements push.BrokerResolver by driving
// app/emqAuth/getEmqBrokerIp, the bootstrap step spec.md §4.7 and §6
// name before a push.Listener can connect.
type EmqResolver struct {
	caller Caller
}

// NewEmqResolver wraps caller as a push.BrokerResolver.
func NewEmqResolver(caller Caller) *EmqResolver {
	return &EmqResolver{caller: caller}
}

type emqBrokerBody struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ResolveBroker implements push.BrokerResolver.
func (r *EmqResolver) ResolveBroker(ctx context.Context, userID string) (string, int, error) {
	parsed, err := r.caller.PostSecure(ctx, emqBrokerPath, map[string]any{"userId": userID})
	if err != nil {
		return "", 0, err
	}
	if len(parsed.RespondData) == 0 {
		return "", 0, fmt.Errorf("adapters: emq broker: empty respondData")
	}
	var body emqBrokerBody
	if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
		return "", 0, fmt.Errorf("adapters: emq broker: parse response: %w", err)
	}
	if body.IP == "" || body.Port == 0 {
		return "", 0, fmt.Errorf("adapters: emq broker: incomplete response")
	}
	return body.IP, body.Port, nil
}

var _ push.BrokerResolver = (*EmqResolver)(nil)
