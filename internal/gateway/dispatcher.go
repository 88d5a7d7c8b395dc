package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/sirupsen/logrus"
)

// CallState состояние вызова в диспетчере.
type CallState string

const (
	StateReceived       CallState = "RECEIVED"
	StateClientVerified CallState = "CLIENT_VERIFIED"
	StatePolicyChecked  CallState = "POLICY_CHECKED"
	StateInputParsed    CallState = "INPUT_PARSED"
	StateExecuting      CallState = "EXECUTING"
	StateSucceeded      CallState = "SUCCEEDED"
	StateFailed         CallState = "FAILED"
)

// ClientVerification настройки обхода проверки клиента. Обход работает только вне продакшена,
// при включенном флаге и совпадающем токене.
type ClientVerification struct {
	Production    bool
	BypassEnabled bool
	BypassToken   string
}

func (v ClientVerification) bypass(token string) bool {
	if v.Production || !v.BypassEnabled || v.BypassToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.BypassToken)) == 1
}

type DispatcherArgs struct {
	Registry *Registry
	// Connector nil, если реляционный бекенд не используется.
	Connector    Connector
	Policy       authz.PolicyEvaluator
	Schema       string
	Retry        RetryPolicy
	Verification ClientVerification
	Logger       *logrus.Logger
}

// Dispatcher точка входа вызова операции.
type Dispatcher struct {
	registry     *Registry
	connector    Connector
	policy       authz.PolicyEvaluator
	schema       string
	retry        RetryPolicy
	verification ClientVerification
	log          *logrus.Entry
}

func NewDispatcher(args DispatcherArgs) *Dispatcher {
	registry := args.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	l := args.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Dispatcher{
		registry:     registry,
		connector:    args.Connector,
		policy:       args.Policy,
		schema:       args.Schema,
		retry:        args.Retry,
		verification: args.Verification,
		log:          l.WithField("component", "dispatcher"),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// call состояние одного вызова для логов.
type call struct {
	operation string
	def       *Definition
	cc        CallerContext
	keys      []string
	fields    logrus.Fields
	started   time.Time
	state     CallState
	attempts  uint
}

// Call выполняет операцию. Любая ошибка возвращается как *rpcerr.Error.
func (d *Dispatcher) Call(ctx context.Context, operation string, raw json.RawMessage, cc CallerContext) (any, error) {
	c := &call{operation: operation, cc: cc, started: time.Now(), state: StateReceived}
	payload, keys := decodePayload(raw)
	c.keys = keys

	def, lookupErr := d.registry.Lookup(operation)
	c.def = def
	d.entry(c).Info("rpc attempt")
	if lookupErr != nil {
		return nil, d.fail(c, lookupErr)
	}

	if err := d.verifyClient(def, cc); err != nil {
		return nil, d.fail(c, err)
	}
	c.state = StateClientVerified

	if err := d.checkPolicy(ctx, def, payload, cc); err != nil {
		return nil, d.fail(c, err)
	}
	c.state = StatePolicyChecked

	p, parseErr := def.parse(raw, cc)
	if parseErr != nil {
		if _, typed := rpcerr.As(parseErr); !typed {
			parseErr = rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, "invalid payload").WithCause(parseErr)
		}
		return nil, d.fail(c, parseErr)
	}
	c.state = StateInputParsed
	c.fields = def.logFieldsOf(p, cc)

	req := NewRequest(def.routine)
	if err := def.bind(req, p, cc); err != nil {
		return nil, d.fail(c, err)
	}
	if err := req.Err(); err != nil {
		return nil, d.fail(c, fmt.Errorf("bind %s: %w", operation, err))
	}

	c.state = StateExecuting
	res, execErr := d.execute(ctx, c, def, req, p)
	if execErr != nil {
		return nil, d.fail(c, execErr)
	}

	out, transformErr := def.transform(res, p, cc)
	if transformErr != nil {
		return nil, d.fail(c, transformErr)
	}

	c.state = StateSucceeded
	d.entry(c).WithField("elapsedMs", time.Since(c.started).Milliseconds()).Info("rpc succeeded")
	return out, nil
}

func (d *Dispatcher) execute(ctx context.Context, c *call, def *Definition, req *Request, p any) (any, error) {
	for attempt := uint(1); ; attempt++ {
		c.attempts = attempt
		sess := NewSession(d.connector, d.schema)
		res, err := def.execute(ctx, sess, req, p, c.cc)
		if err == nil {
			return res, nil
		}
		if sess.Used() && poolLevel(err) && !isAcquireError(err) {
			d.connector.Discard(err)
		}
		if !d.retry.retryable(err, attempt) {
			return nil, err
		}
		d.entry(c).WithError(err).WithField("attempt", attempt).Warn("backend connection failure, retrying")
		if waitErr := d.retry.wait(ctx, attempt); waitErr != nil {
			return nil, err
		}
	}
}

func (d *Dispatcher) verifyClient(def *Definition, cc CallerContext) error {
	if !def.requireVerifiedClient || cc.ClientVerified {
		return nil
	}
	if d.verification.bypass(cc.BypassToken) {
		d.log.WithField("operation", def.name).WithField("requestID", cc.RequestID).
			Warn("client verification bypassed")
		return nil
	}
	return rpcerr.FailedPrecondition(rpcerr.ReasonClientNotVerified, "client verification required")
}

func (d *Dispatcher) checkPolicy(ctx context.Context, def *Definition, payload Payload, cc CallerContext) error {
	if def.resource == "" {
		return nil
	}
	if cc.Identity == nil || cc.Identity.UID == "" {
		return rpcerr.Unauthenticated("authentication required")
	}
	if d.policy == nil {
		return rpcerr.Internal(rpcerr.ReasonPolicyEvaluationFailed, "policy evaluator is not configured")
	}

	err := d.assertAllowed(ctx, authz.PolicyRequest{
		Identity: *cc.Identity,
		Resource: def.resource,
		Action:   def.action,
		Scope:    def.scopeOf(payload, cc),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authz.ErrDenied):
		return rpcerr.PermissionDenied(rpcerr.ReasonPolicyDenied, "permission denied").WithCause(err)
	default:
		return rpcerr.Internal(rpcerr.ReasonPolicyEvaluationFailed, "policy evaluation failed").WithCause(err)
	}
}

// assertAllowed паника оценщика превращается в ошибку оценщика.
func (d *Dispatcher) assertAllowed(ctx context.Context, req authz.PolicyRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy evaluator panic: %v", r)
		}
	}()
	return d.policy.AssertAllowed(ctx, req)
}

func (d *Dispatcher) fail(c *call, err error) error {
	elapsed := time.Since(c.started)
	ec := rpcerr.ErrorContext{Operation: c.operation, Elapsed: elapsed}
	if c.def != nil {
		ec.Routine = c.def.routine
		ec.MapError = c.def.mapError
	}
	norm := rpcerr.Normalize(err, ec)

	failedAt := c.state
	c.state = StateFailed

	entry := d.entry(c).WithFields(logrus.Fields{
		"elapsedMs": elapsed.Milliseconds(),
		"state":     failedAt,
		"kind":      norm.Kind,
		"reason":    norm.Reason,
	})
	if diag, ok := rpcerr.DiagnosticsOf(norm); ok {
		entry = entry.WithFields(logrus.Fields{
			"classification": diag.Classification,
			"diagnostics":    diag.Redacted(),
		})
	}
	if norm.Kind == rpcerr.KindInternal {
		entry.Error("rpc failed")
	} else {
		entry.Warn("rpc failed")
	}
	return norm
}

func (d *Dispatcher) entry(c *call) *logrus.Entry {
	var caller any
	if uid := c.cc.UID(); uid != "" {
		caller = uid
	}
	fields := logrus.Fields{
		"operation":   c.operation,
		"caller":      caller,
		"payloadKeys": c.keys,
		"requestID":   c.cc.RequestID,
	}
	if c.def != nil {
		fields["resource"] = c.def.resource
		fields["action"] = c.def.action
		if c.def.region != "" {
			fields["region"] = c.def.region
		}
	}
	if c.attempts > 1 {
		fields["attempts"] = c.attempts
	}
	for k, v := range c.fields {
		if _, reserved := fields[k]; !reserved {
			fields[k] = v
		}
	}
	return d.log.WithFields(fields)
}

// decodePayload разбирает объект без схемы. Не объект - пустой Payload, ошибку вернет ParseInput.
func decodePayload(raw json.RawMessage) (Payload, []string) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return Payload{}, []string{}
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return payload, keys
}
