package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	authzmocks "github.com/fsdevblog/escrow-gateway/internal/authz/mocks"
	"github.com/fsdevblog/escrow-gateway/internal/gateway/gatewaytest"
	"github.com/fsdevblog/escrow-gateway/internal/gateway/mocks"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	uowmocks "github.com/fsdevblog/escrow-gateway/pkg/uow/mocks"
	"github.com/golang/mock/gomock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

const walletStmt = `SELECT * FROM "public"."wallet_get"("p_owner_id" => $1::text)`

type walletInput struct {
	OwnerID string `json:"ownerId" validate:"required"`
}

type DispatcherTestSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	connector *mocks.MockConnector
	conn      *uowmocks.MockConn
	policy    *authzmocks.MockPolicyEvaluator
	logs      *bytes.Buffer
	args      DispatcherArgs
	caller    CallerContext
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func (s *DispatcherTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.connector = mocks.NewMockConnector(s.ctrl)
	s.conn = uowmocks.NewMockConn(s.ctrl)
	s.policy = authzmocks.NewMockPolicyEvaluator(s.ctrl)

	s.logs = new(bytes.Buffer)
	l := logrus.New()
	l.SetOutput(s.logs)
	l.SetFormatter(new(logrus.JSONFormatter))

	registry := NewRegistry()
	s.Require().NoError(registry.Register(walletDefinition(false), walletDefinition(true)))

	s.args = DispatcherArgs{
		Registry:  registry,
		Connector: s.connector,
		Policy:    s.policy,
		Schema:    "public",
		Retry:     RetryPolicy{Attempts: 3},
		Logger:    l,
	}
	s.caller = CallerContext{
		Identity:       &authz.Identity{UID: "buyer-1"},
		ClientVerified: true,
		RequestID:      "req-1",
	}
}

func (s *DispatcherTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func walletDefinition(verified bool) *Definition {
	name := "wallet.get"
	if verified {
		name = "wallet.getVerified"
	}
	return MustDefinition(DefinitionArgs[walletInput]{
		Name:                  name,
		RequireVerifiedClient: verified,
		Resource:              "wallet",
		Action:                "read",
		Routine:               "wallet_get",
		ParseInput: func(raw json.RawMessage, _ CallerContext) (walletInput, error) {
			return DecodeInput[walletInput](raw)
		},
		Bind: func(req *Request, p walletInput, _ CallerContext) error {
			req.Input("p_owner_id", Text, p.OwnerID)
			return nil
		},
		Transform: func(raw any, _ walletInput, _ CallerContext) (any, error) {
			row, ok := raw.(*Result).First()
			if !ok {
				return nil, rpcerr.NotFound(rpcerr.ReasonWalletNotFound, "wallet not found")
			}
			return map[string]any{"balance": row["balance"]}, nil
		},
		ScopeContext: func(p Payload, _ CallerContext) map[string]any {
			return map[string]any{"ownerId": p.String("ownerId")}
		},
	})
}

func (s *DispatcherTestSuite) dispatcher() *Dispatcher {
	return NewDispatcher(s.args)
}

func (s *DispatcherTestSuite) call(op string, payload string) (any, *rpcerr.Error) {
	out, err := s.dispatcher().Call(context.Background(), op, json.RawMessage(payload), s.caller)
	if err == nil {
		return out, nil
	}
	typed, ok := rpcerr.As(err)
	s.Require().True(ok, "dispatcher must return typed errors")
	return out, typed
}

func (s *DispatcherTestSuite) walletRows(balance int64) *gatewaytest.Rows {
	return gatewaytest.NewRows([]string{"owner_id", "balance"}, []any{"buyer-1", balance})
}

func (s *DispatcherTestSuite) allowPolicy() {
	s.policy.EXPECT().AssertAllowed(gomock.Any(), gomock.Any()).Return(nil)
}

func (s *DispatcherTestSuite) TestSuccess() {
	s.policy.EXPECT().AssertAllowed(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req authz.PolicyRequest) error {
			s.Equal("wallet", req.Resource)
			s.Equal("read", req.Action)
			s.Equal("buyer-1", req.Identity.UID)
			s.Equal(map[string]any{"ownerId": "buyer-1"}, req.Scope)
			return nil
		})
	s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil)
	s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(s.walletRows(1000), nil)

	out, err := s.call("wallet.get", `{"ownerId":" buyer-1 "}`)
	s.Nil(err)
	s.Equal(map[string]any{"balance": int64(1000)}, out)

	logs := s.logs.String()
	s.Contains(logs, `"msg":"rpc attempt"`)
	s.Contains(logs, `"msg":"rpc succeeded"`)
	s.Contains(logs, `"payloadKeys":["ownerId"]`)
	s.Contains(logs, `"requestID":"req-1"`)
	s.NotContains(logs, " buyer-1 ")
}

func (s *DispatcherTestSuite) TestUnknownOperation() {
	_, err := s.call("wallet.delete", `{}`)
	s.Equal(rpcerr.KindFailedPrecondition, err.Kind)
	s.Equal(rpcerr.ReasonOperationNotRegistered, err.Reason)
}

func (s *DispatcherTestSuite) TestClientVerification() {
	cases := []struct {
		name    string
		verify  ClientVerification
		token   string
		allowed bool
	}{
		{name: "no bypass", verify: ClientVerification{}, token: "secret"},
		{name: "bypass with token", verify: ClientVerification{BypassEnabled: true, BypassToken: "secret"}, token: "secret", allowed: true},
		{name: "wrong token", verify: ClientVerification{BypassEnabled: true, BypassToken: "secret"}, token: "guess"},
		{name: "missing token", verify: ClientVerification{BypassEnabled: true, BypassToken: "secret"}},
		{name: "production disables bypass", verify: ClientVerification{Production: true, BypassEnabled: true, BypassToken: "secret"}, token: "secret"},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			s.args.Verification = t.verify
			s.caller.ClientVerified = false
			s.caller.BypassToken = t.token
			if t.allowed {
				s.allowPolicy()
				s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil)
				s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(s.walletRows(5), nil)
			}

			_, err := s.call("wallet.getVerified", `{"ownerId":"buyer-1"}`)
			if t.allowed {
				s.Nil(err)
				return
			}
			s.Require().NotNil(err)
			s.Equal(rpcerr.KindFailedPrecondition, err.Kind)
			s.Equal(rpcerr.ReasonClientNotVerified, err.Reason)
		})
	}
}

func (s *DispatcherTestSuite) TestUnverifiedClientAllowedWhenNotRequired() {
	s.caller.ClientVerified = false
	s.allowPolicy()
	s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil)
	s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(s.walletRows(5), nil)

	_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
	s.Nil(err)
}

func (s *DispatcherTestSuite) TestPolicy() {
	cases := []struct {
		name       string
		identity   *authz.Identity
		policyErr  error
		panics     bool
		wantKind   rpcerr.Kind
		wantReason string
	}{
		{name: "anonymous", wantKind: rpcerr.KindUnauthenticated, wantReason: rpcerr.ReasonUnauthenticated},
		{
			name: "denied", identity: &authz.Identity{UID: "u"}, policyErr: authz.ErrDenied,
			wantKind: rpcerr.KindPermissionDenied, wantReason: rpcerr.ReasonPolicyDenied,
		},
		{
			name: "evaluator fault", identity: &authz.Identity{UID: "u"}, policyErr: errors.New("rules store unreachable"),
			wantKind: rpcerr.KindInternal, wantReason: rpcerr.ReasonPolicyEvaluationFailed,
		},
		{
			name: "evaluator panic", identity: &authz.Identity{UID: "u"}, panics: true,
			wantKind: rpcerr.KindInternal, wantReason: rpcerr.ReasonPolicyEvaluationFailed,
		},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			s.caller.Identity = t.identity
			if t.identity != nil {
				call := s.policy.EXPECT().AssertAllowed(gomock.Any(), gomock.Any())
				if t.panics {
					call.DoAndReturn(func(context.Context, authz.PolicyRequest) error { panic("boom") })
				} else {
					call.Return(t.policyErr)
				}
			}

			_, err := s.call("wallet.get", `{"ownerId":"someone"}`)
			s.Require().NotNil(err)
			s.Equal(t.wantKind, err.Kind)
			s.Equal(t.wantReason, err.Reason)
			s.NotContains(err.Message, "unreachable")
		})
	}
}

func (s *DispatcherTestSuite) TestInvalidInput() {
	s.allowPolicy()

	_, err := s.call("wallet.get", `{"ownerId":""}`)
	s.Require().NotNil(err)
	s.Equal(rpcerr.KindInvalidArgument, err.Kind)
	s.Equal("ownerId is required", err.Message)
}

func (s *DispatcherTestSuite) TestEmptyResultIsNotFound() {
	s.allowPolicy()
	s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil)
	s.conn.EXPECT().Query(gomock.Any(), walletStmt, "ghost").Return(gatewaytest.NewRows([]string{"balance"}), nil)

	_, err := s.call("wallet.get", `{"ownerId":"ghost"}`)
	s.Require().NotNil(err)
	s.Equal(rpcerr.KindNotFound, err.Kind)
}

func (s *DispatcherTestSuite) TestRetriesConnectionFailureThenSucceeds() {
	s.allowPolicy()
	broken := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	gomock.InOrder(
		s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil),
		s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(nil, broken),
		s.connector.EXPECT().Discard(broken),
		s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil),
		s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(s.walletRows(7), nil),
	)

	out, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
	s.Nil(err)
	s.Equal(map[string]any{"balance": int64(7)}, out)
	s.Contains(s.logs.String(), "backend connection failure, retrying")
}

func (s *DispatcherTestSuite) TestAcquireFailureRetriedWithoutDiscard() {
	s.allowPolicy()
	gomock.InOrder(
		s.connector.EXPECT().Acquire(gomock.Any()).Return(nil, io.ErrUnexpectedEOF),
		s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil),
		s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(s.walletRows(7), nil),
	)

	_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
	s.Nil(err)
}

func (s *DispatcherTestSuite) TestRetryExhausted() {
	s.allowPolicy()
	broken := &pgconn.PgError{Code: "57P01"}
	s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil).Times(3)
	s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").Return(nil, broken).Times(3)
	s.connector.EXPECT().Discard(broken).Times(3)

	_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
	s.Require().NotNil(err)
	s.Equal(rpcerr.KindFailedPrecondition, err.Kind)
	s.Equal(rpcerr.ReasonBackendUnavailable, err.Reason)
	s.Contains(s.logs.String(), `"attempts":3`)
}

func (s *DispatcherTestSuite) TestBusinessErrorNeverRetried() {
	s.allowPolicy()
	s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil).Times(1)
	s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").
		Return(nil, &pgconn.PgError{Code: "P0001", Message: "ERR_INSUFFICIENT_BALANCE: required=105 available=50"}).
		Times(1)

	_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
	s.Require().NotNil(err)
	s.Equal(rpcerr.KindFailedPrecondition, err.Kind)
	s.Equal(rpcerr.ReasonInsufficientBalance, err.Reason)
	s.Equal("required=105 available=50", err.Message)

	diag, ok := rpcerr.DiagnosticsOf(err)
	s.Require().True(ok)
	s.Equal("P0001", diag.DriverCode)
	s.Equal("wallet_get", diag.Routine)
	s.Contains(s.logs.String(), `"classification":"reason-token"`)
}

func (s *DispatcherTestSuite) TestTimeouts() {
	s.Run("during execution is not retried", func() {
		s.allowPolicy()
		s.connector.EXPECT().Acquire(gomock.Any()).Return(s.conn, nil).Times(1)
		s.conn.EXPECT().Query(gomock.Any(), walletStmt, "buyer-1").
			Return(nil, &pgconn.PgError{Code: "57014"}).Times(1)

		_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
		s.Require().NotNil(err)
		s.Equal(rpcerr.KindDeadlineExceeded, err.Kind)
	})
	s.Run("during acquire is retried once", func() {
		s.allowPolicy()
		s.connector.EXPECT().Acquire(gomock.Any()).Return(nil, context.DeadlineExceeded).Times(2)

		_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
		s.Require().NotNil(err)
		s.Equal(rpcerr.KindDeadlineExceeded, err.Kind)
		s.Equal(rpcerr.ReasonBackendTimeout, err.Reason)
	})
}

func (s *DispatcherTestSuite) TestRelationalBackendDisabled() {
	s.args.Connector = nil
	s.allowPolicy()

	_, err := s.call("wallet.get", `{"ownerId":"buyer-1"}`)
	s.Require().NotNil(err)
	s.Equal(rpcerr.KindFailedPrecondition, err.Kind)
	s.Equal(rpcerr.ReasonBackendNotConfigured, err.Reason)
}

func (s *DispatcherTestSuite) TestCustomExecuteSkipsPool() {
	def := MustDefinition(DefinitionArgs[struct{}]{
		Name: "ping",
		ParseInput: func(json.RawMessage, CallerContext) (struct{}, error) {
			return struct{}{}, nil
		},
		Execute: func(context.Context, *Session, *Request, struct{}, CallerContext) (any, error) {
			return "pong", nil
		},
		LogContext: func(struct{}, CallerContext) logrus.Fields {
			return logrus.Fields{"operation": "spoofed", "flavor": "custom"}
		},
	})
	s.Require().NoError(s.args.Registry.Register(def))

	out, err := s.call("ping", `{}`)
	s.Nil(err)
	s.Equal("pong", out)
	s.Contains(s.logs.String(), `"flavor":"custom"`)
	s.NotContains(s.logs.String(), "spoofed")
}
