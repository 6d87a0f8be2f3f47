// Package channel exposes identity operations as named methods, the way a
// mobile host calls into the SDK over a platform channel. Every call returns an
// Envelope; failures never escape as errors or panics.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/weticket/go-did-sdk/common/sdkerr"
	"github.com/weticket/go-did-sdk/did"
	"github.com/weticket/go-did-sdk/identity"
)

// Method names.
const (
	MethodCreateDID         = "createDid"
	MethodDeleteDocument    = "delDidDoc"
	MethodDIDAuth           = "didAuth"
	MethodSignAttachedProof = "signAttachedProof"
)

// Failure kinds that are not part of the SDK error taxonomy.
const (
	KindNotImplemented = "notImplemented"
	KindInternal       = "internal"
)

// Identity is the command surface the dispatcher drives.
type Identity interface {
	CreateIdentity(ctx context.Context) (*identity.Identity, error)
	DeleteIdentity(ctx context.Context) error
	Authenticate(ctx context.Context, nonce string) (*identity.Authentication, error)
	SignAttachedProof(ctx context.Context, keyID string) (*did.Document, error)
}

// Call is one method invocation.
type Call struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Envelope is the flat result object of a call. Success envelopes carry
// "success": true, the method's payload fields and "timestamp" in
// milliseconds. Failure envelopes carry "success": false, "error",
// "errorKind" and "timestamp".
type Envelope map[string]any

// Success reports whether the envelope is a success envelope.
func (e Envelope) Success() bool {
	ok, _ := e["success"].(bool)

	return ok
}

// ErrorKind returns the failure kind, or "" for a success envelope.
func (e Envelope) ErrorKind() string {
	kind, _ := e["errorKind"].(string)

	return kind
}

// Dispatcher routes calls to an Identity.
type Dispatcher struct {
	identity Identity
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher returns a Dispatcher over id.
func NewDispatcher(id Identity, opts ...Option) *Dispatcher {
	d := &Dispatcher{identity: id, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch runs call and wraps its outcome in an Envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (env Envelope) {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &d.logger
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("method", call.Method).Interface("panic", r).Msg("method panicked")
			env = d.failure(KindInternal, fmt.Errorf("internal error: %v", r))
		}
	}()

	payload, err := d.invoke(ctx, call)
	if err != nil {
		kind := KindInternal
		if k := sdkerr.KindOf(err); k != "" {
			kind = string(k)
		}
		if kind == KindNotImplemented {
			logger.Warn().Str("method", call.Method).Msg("unknown method")
		} else {
			logger.Warn().Err(err).Str("method", call.Method).Str("error_kind", kind).Msg("method failed")
		}

		return d.failure(kind, err)
	}

	logger.Info().Str("method", call.Method).Msg("method succeeded")

	env, err = d.success(payload)
	if err != nil {
		return d.failure(KindInternal, err)
	}

	return env
}

func (d *Dispatcher) invoke(ctx context.Context, call Call) (any, error) {
	switch call.Method {
	case MethodCreateDID:
		return d.identity.CreateIdentity(ctx)

	case MethodDeleteDocument:
		if err := d.identity.DeleteIdentity(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil

	case MethodDIDAuth:
		nonce, err := stringArg(call, "nonce")
		if err != nil {
			return nil, err
		}
		return d.identity.Authenticate(ctx, nonce)

	case MethodSignAttachedProof:
		keyID, err := stringArg(call, "keyId")
		if err != nil {
			return nil, err
		}
		doc, err := d.identity.SignAttachedProof(ctx, keyID)
		if err != nil {
			return nil, err
		}
		return map[string]*did.Document{"document": doc}, nil

	default:
		return nil, sdkerr.New(sdkerr.Kind(KindNotImplemented), "channel.Dispatch", "method %q is not implemented", call.Method)
	}
}

func stringArg(call Call, name string) (string, error) {
	v, ok := call.Arguments[name]
	if !ok {
		return "", sdkerr.New(sdkerr.InvalidArgument, call.Method, "argument %q is required", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", sdkerr.New(sdkerr.InvalidArgument, call.Method, "argument %q must be a string", name)
	}

	return s, nil
}

// success flattens payload's JSON object fields into the envelope.
func (d *Dispatcher) success(payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	env := Envelope{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	env["success"] = true
	env["timestamp"] = d.now().UnixMilli()

	return env, nil
}

func (d *Dispatcher) failure(kind string, err error) Envelope {
	return Envelope{
		"success":   false,
		"error":     err.Error(),
		"errorKind": kind,
		"timestamp": d.now().UnixMilli(),
	}
}
