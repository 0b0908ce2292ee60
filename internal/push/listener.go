// Package push implements the TLS MQTT push listener described in
// spec.md §4.7: broker discovery, subscribe, decrypt, dispatch by
// envelope type, and a reconnect loop that never gives up and never
// lets a malformed message take the connection down.
package push

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
	"github.com/Ap3pp3rs94/vehiclecore/internal/session"
	"github.com/Ap3pp3rs94/vehiclecore/internal/wbcrypto"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/telemetry"
)

// BrokerResolver discovers the MQTT broker address for the current
// session, per the bootstrap step in spec.md §4.7
// (app/emqAuth/getEmqBrokerIp).
type BrokerResolver interface {
	ResolveBroker(ctx context.Context, userID string) (host string, port int, err error)
}

// VehicleInfoHandler receives a decrypted `vehicleInfo` push payload
// for merging into the realtime state section.
type VehicleInfoHandler func(ctx context.Context, payload json.RawMessage)

// Options configures a Listener.
type Options struct {
	Keepalive  time.Duration
	ConnectTimeout time.Duration
	TLSConfig  *tls.Config
	InboxSize  int
}

func (o *Options) setDefaults() {
	if o.Keepalive <= 0 {
		o.Keepalive = 60 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 256
	}
}

// Listener owns one logical MQTT subscription for the process's current
// session, reconnecting across session changes.
type Listener struct {
	opts     Options
	sessions *session.Holder
	resolver BrokerResolver
	wb       *wbcrypto.Codec
	waiters  *Waiters
	onVehicle VehicleInfoHandler
	log      *telemetry.Logger
	meter    telemetry.Meter
	backoff  *reconnectBackoff

	mu     sync.Mutex
	client mqtt.Client
}

// New builds a Listener. onVehicle may be nil (vehicleInfo pushes are
// then silently dropped after being decrypted, useful for tests that
// only exercise command resolution). meter may be nil; dispatch counts
// are then recorded against telemetry.NopMeterInstance.
func New(opts Options, sessions *session.Holder, resolver BrokerResolver, waiters *Waiters, onVehicle VehicleInfoHandler, log *telemetry.Logger, meter telemetry.Meter) (*Listener, error) {
	wb, err := wbcrypto.New()
	if err != nil {
		return nil, err
	}
	opts.setDefaults()
	if log == nil {
		log = telemetry.Nop
	}
	return &Listener{
		opts:      opts,
		sessions:  sessions,
		resolver:  resolver,
		wb:        wb,
		waiters:   waiters,
		onVehicle: onVehicle,
		log:       log,
		meter:     meter,
		backoff:   newReconnectBackoff(),
	}, nil
}

// Connected reports whether the listener currently holds a live MQTT
// connection.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil && l.client.IsConnected()
}

// Run blocks, maintaining the MQTT connection until ctx is cancelled.
// It never returns early on a connection failure; it reconnects with
// full-jitter backoff instead. The only way Run returns is ctx being
// done, in which case it returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sess, err := l.sessions.Get()
		if err != nil {
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		if err := l.connectAndServe(ctx, sess); err != nil {
			attempt++
			l.log.Warn(ctx, "push: connection ended, reconnecting", map[string]any{
				"error": err.Error(), "attempt": attempt,
			})
		} else {
			attempt = 0
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleepCtx(ctx, l.backoff.next(attempt)) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Listener) connectAndServe(ctx context.Context, sess session.Session) error {
	host, port, err := l.resolver.ResolveBroker(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("push: resolve broker: %w", err)
	}

	lostCh := make(chan error, 1)
	clientOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", host, port)).
		SetClientID("vehiclecore-" + sess.UserID).
		SetUsername(sess.UserID).
		SetKeepAlive(l.opts.Keepalive).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lostCh <- err:
			default:
			}
		})
	if l.opts.TLSConfig != nil {
		clientOpts.SetTLSConfig(l.opts.TLSConfig)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(l.opts.ConnectTimeout) {
		return fmt.Errorf("push: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("push: connect: %w", err)
	}

	box := newInbox(l.opts.InboxSize)
	topic := fmt.Sprintf("oversea/res/%s", sess.UserID)
	subToken := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		if !box.offer(payload) {
			l.log.Warn(ctx, "push: inbox full, dropping message", map[string]any{"topic": topic})
		}
	})
	if !subToken.WaitTimeout(l.opts.ConnectTimeout) {
		client.Disconnect(250)
		return fmt.Errorf("push: subscribe timeout")
	}
	if err := subToken.Error(); err != nil {
		client.Disconnect(250)
		return fmt.Errorf("push: subscribe %q: %w", topic, err)
	}

	l.mu.Lock()
	l.client = client
	l.mu.Unlock()

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for raw := range box.messages() {
			l.dispatch(ctx, raw, sess)
		}
	}()

	sessChanged := l.watchSessionChange(ctx, sess)

	defer func() {
		box.close()
		<-drainDone
		client.Disconnect(250)
		l.mu.Lock()
		l.client = nil
		l.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-lostCh:
		if err == nil {
			err = fmt.Errorf("push: connection lost")
		}
		return err
	case <-sessChanged:
		return fmt.Errorf("push: session changed, reconnecting")
	}
}

// watchSessionChange signals once the holder no longer reflects
// original (invalidated, or replaced by a fresh login), per spec.md
// §4.7's "on session invalidation, disconnect and wait for caller to
// re-authenticate, then reconnect."
func (l *Listener) watchSessionChange(ctx context.Context, original session.Session) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := l.sessions.Get()
				if err != nil || !cur.CreatedAt.Equal(original.CreatedAt) || cur.UserID != original.UserID {
					select {
					case ch <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()
	return ch
}

type pushEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		Data struct {
			RespondData string `json:"respondData"`
		} `json:"data"`
	} `json:"payload"`
}

// dispatch decodes one raw MQTT message and routes it by envelope
// type. Any failure at any stage drops the message and logs at debug
// level; it never propagates an error that would kill the listener
// (spec.md §4.7: "message parsing MUST never kill the listener").
func (l *Listener) dispatch(ctx context.Context, raw []byte, sess session.Session) {
	plain, err := l.wb.Decode(raw)
	if err != nil {
		l.log.Debug(ctx, "push: malformed envelope, dropped", map[string]any{"error": err.Error()})
		l.countDispatch(ctx, "malformed")
		return
	}
	var env pushEnvelope
	if err := json.Unmarshal(plain, &env); err != nil {
		l.log.Debug(ctx, "push: malformed envelope json, dropped", map[string]any{"error": err.Error()})
		l.countDispatch(ctx, "malformed")
		return
	}
	if env.Payload.Data.RespondData == "" {
		l.countDispatch(ctx, "empty")
		return
	}
	decrypted, err := innercrypto.Decrypt(sess.ContentKey, env.Payload.Data.RespondData)
	if err != nil {
		l.log.Debug(ctx, "push: inner decrypt failed, dropped", map[string]any{"error": err.Error()})
		l.countDispatch(ctx, "decrypt_error")
		return
	}

	switch env.Type {
	case "vehicleInfo":
		if l.onVehicle != nil {
			l.onVehicle(ctx, json.RawMessage(decrypted))
		}
		l.countDispatch(ctx, "vehicleInfo")
	case "remoteControl":
		l.resolveRemoteControl(decrypted)
		l.countDispatch(ctx, "remoteControl")
	default:
		l.log.Debug(ctx, "push: unknown envelope type, dropped", map[string]any{"type": env.Type})
		l.countDispatch(ctx, "unknown")
	}
}

func (l *Listener) countDispatch(ctx context.Context, result string) {
	_ = telemetry.IncCounter(l.meter, ctx, "vehiclecore_push_dispatch_total", 1, telemetry.Labels{"result": result})
}

func (l *Listener) resolveRemoteControl(decrypted []byte) {
	var body map[string]any
	if err := json.Unmarshal(decrypted, &body); err != nil {
		return
	}
	requestSerial, _ := body["requestSerial"].(string)
	if requestSerial == "" {
		return
	}
	result := CommandResult{RequestSerial: requestSerial, Raw: body}
	if v, ok := intField(body["controlState"]); ok {
		result.ControlState = v
	}
	if v, ok := intField(body["res"]); ok {
		result.Res = v
	}
	l.waiters.ResolveBySerial(requestSerial, result)
}

func intField(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case int:
		return x, true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	default:
		return 0, false
	}
}
