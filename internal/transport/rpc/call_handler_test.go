package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/pool"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/fsdevblog/escrow-gateway/internal/service/tokens"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/envelope"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/middlewares"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/mocks"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/testutils"
	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type CallHandlerTestSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	dispatcher *mocks.MockCaller
	userKey    []byte
	clientKey  []byte
	router     *gin.Engine
}

func TestCallHandlerSuite(t *testing.T) {
	suite.Run(t, new(CallHandlerTestSuite))
}

func (s *CallHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.ctrl = gomock.NewController(s.T())
	s.dispatcher = mocks.NewMockCaller(s.ctrl)
	s.userKey = []byte("user secret")
	s.clientKey = []byte("client secret")
	s.router = s.newRouter(false)
}

func (s *CallHandlerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *CallHandlerTestSuite) newRouter(production bool) *gin.Engine {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(RouterArgs{
		Logger:          l,
		Dispatcher:      s.dispatcher,
		JWTUserSecret:   s.userKey,
		JWTClientSecret: s.clientKey,
		Production:      production,
	})
}

func (s *CallHandlerTestSuite) userToken(uid string, roles ...string) string {
	token, err := tokens.GenerateUserJWT(uid, roles, time.Hour, s.userKey)
	s.Require().NoError(err)
	return token
}

func (s *CallHandlerTestSuite) clientToken() string {
	token, err := tokens.GenerateClientJWT("web-app", time.Hour, s.clientKey)
	s.Require().NoError(err)
	return token
}

func (s *CallHandlerTestSuite) post(router http.Handler, op string, body io.Reader, opts ...func(*testutils.RequestOptions)) (*http.Response, envelope.Body) {
	resp := testutils.MakeRequest(testutils.RequestArgs{
		Router: router,
		Method: http.MethodPost,
		URL:    "/rpc/" + op,
		Body:   body,
	}, opts...)
	var out envelope.Body
	s.Require().NoError(testutils.DecodeBody(resp, &out))
	return resp, out
}

func (s *CallHandlerTestSuite) TestSuccess() {
	var got gateway.CallerContext
	s.dispatcher.EXPECT().
		Call(gomock.Any(), "escrow.createOrder", json.RawMessage(`{"productId":"p-1"}`), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ json.RawMessage, cc gateway.CallerContext) (any, error) {
			got = cc
			return map[string]any{"orderId": "o-1"}, nil
		})

	resp, body := s.post(s.router, "escrow.createOrder",
		strings.NewReader(`{"data":{"productId":"p-1"}}`),
		testutils.WithBearer(s.userToken("buyer", "admin")),
		testutils.WithHeader(middlewares.ClientTokenHeader, s.clientToken()),
		testutils.WithHeader(middlewares.RequestIDHeader, "req-42"),
	)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("req-42", resp.Header.Get(middlewares.RequestIDHeader))
	s.True(body.OK)
	s.Nil(body.Error)
	s.Equal(map[string]any{"orderId": "o-1"}, body.Data)

	s.Require().NotNil(got.Identity)
	s.Equal("buyer", got.Identity.UID)
	s.Equal([]string{"admin"}, got.Identity.Roles)
	s.True(got.ClientVerified)
	s.Equal("req-42", got.RequestID)
}

func (s *CallHandlerTestSuite) TestCallerContext() {
	cases := []struct {
		name         string
		opts         []func(*testutils.RequestOptions)
		wantUID      string
		wantVerified bool
		wantBypass   string
	}{
		{name: "anonymous"},
		{
			name: "invalid client token is not verified",
			opts: []func(*testutils.RequestOptions){
				testutils.WithBearer(s.userToken("buyer")),
				testutils.WithHeader(middlewares.ClientTokenHeader, "garbage"),
			},
			wantUID: "buyer",
		},
		{
			name: "bypass token is passed through",
			opts: []func(*testutils.RequestOptions){
				testutils.WithHeader(middlewares.ClientBypassHeader, "let-me-in"),
			},
			wantBypass: "let-me-in",
		},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			var got gateway.CallerContext
			s.dispatcher.EXPECT().Call(gomock.Any(), "wallet.get", gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ string, _ json.RawMessage, cc gateway.CallerContext) (any, error) {
					got = cc
					return map[string]any{}, nil
				})

			resp, _ := s.post(s.router, "wallet.get", strings.NewReader(`{"data":{}}`), t.opts...)
			s.Equal(http.StatusOK, resp.StatusCode)
			s.Equal(t.wantUID, got.UID())
			s.Equal(t.wantVerified, got.ClientVerified)
			s.Equal(t.wantBypass, got.BypassToken)
			// идентификатор запроса выдается, если клиент его не прислал.
			s.NotEmpty(got.RequestID)
			s.Equal(got.RequestID, resp.Header.Get(middlewares.RequestIDHeader))
		})
	}
}

func (s *CallHandlerTestSuite) TestMissingDataIsEmptyObject() {
	s.dispatcher.EXPECT().Call(gomock.Any(), "wallet.get", json.RawMessage(`{}`), gomock.Any()).
		Return(map[string]any{}, nil).Times(2)

	for _, body := range []string{`{}`, `{"data":null}`} {
		resp, _ := s.post(s.router, "wallet.get", strings.NewReader(body))
		s.Equal(http.StatusOK, resp.StatusCode)
	}
}

func (s *CallHandlerTestSuite) TestRejectedBeforeDispatch() {
	expired, err := tokens.GenerateUserJWT("buyer", nil, -time.Minute, s.userKey)
	s.Require().NoError(err)

	cases := []struct {
		name       string
		body       string
		opts       []func(*testutils.RequestOptions)
		wantStatus int
		wantKind   rpcerr.Kind
	}{
		{
			name:       "expired user token",
			body:       `{"data":{}}`,
			opts:       []func(*testutils.RequestOptions){testutils.WithBearer(expired)},
			wantStatus: http.StatusUnauthorized,
			wantKind:   rpcerr.KindUnauthenticated,
		},
		{
			name:       "malformed body",
			body:       `{"data":`,
			wantStatus: http.StatusBadRequest,
			wantKind:   rpcerr.KindInvalidArgument,
		},
		{
			name:       "body is not an object",
			body:       `[1, 2]`,
			wantStatus: http.StatusBadRequest,
			wantKind:   rpcerr.KindInvalidArgument,
		},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			resp, body := s.post(s.router, "wallet.get", strings.NewReader(t.body), t.opts...)
			s.Equal(t.wantStatus, resp.StatusCode)
			s.False(body.OK)
			s.Require().NotNil(body.Error)
			s.Equal(t.wantKind, body.Error.Kind)
		})
	}
}

func (s *CallHandlerTestSuite) TestErrorEnvelope() {
	norm := rpcerr.Normalize(&pgconn.PgError{Code: "23505", Message: `duplicate key "orders_pkey"`},
		rpcerr.ErrorContext{Operation: "escrow.createOrder"})

	cases := []struct {
		name       string
		production bool
		wantSQL    string
	}{
		{name: "development", wantSQL: "23505"},
		{name: "production hides sqlstate", production: true},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			s.dispatcher.EXPECT().Call(gomock.Any(), "escrow.createOrder", gomock.Any(), gomock.Any()).Return(nil, norm)

			resp, body := s.post(s.newRouter(t.production), "escrow.createOrder",
				strings.NewReader(`{"data":{"productId":"p-1"}}`))

			s.Equal(http.StatusConflict, resp.StatusCode)
			s.False(body.OK)
			s.Nil(body.Data)
			s.Require().NotNil(body.Error)
			s.Equal(rpcerr.KindAlreadyExists, body.Error.Kind)
			s.Equal("record already exists", body.Error.Message)
			s.Require().NotNil(body.Error.Details)
			s.Equal(rpcerr.ReasonDuplicateRecord, body.Error.Details.Reason)
			s.Equal(string(rpcerr.ClassConstraint), body.Error.Details.Classification)
			s.Equal(t.wantSQL, body.Error.Details.SQL)
		})
	}
	gin.SetMode(gin.TestMode)
}

func (s *CallHandlerTestSuite) TestUntypedErrorIsNormalized() {
	s.dispatcher.EXPECT().Call(gomock.Any(), "order.get", gomock.Any(), gomock.Any()).
		Return(nil, errors.New("boom"))

	resp, body := s.post(s.router, "order.get", strings.NewReader(`{"data":{"orderId":"o-1"}}`))
	s.Equal(http.StatusInternalServerError, resp.StatusCode)
	s.Require().NotNil(body.Error)
	s.Equal(rpcerr.KindInternal, body.Error.Kind)
	s.Equal(rpcerr.ReasonGatewayFailure, body.Error.Details.Reason)
	s.NotContains(body.Error.Message, "boom")
}

type HealthHandlerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	pool *mocks.MockPoolStatuser
	docs *mocks.MockPinger
}

func TestHealthHandlerSuite(t *testing.T) {
	suite.Run(t, new(HealthHandlerTestSuite))
}

func (s *HealthHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.ctrl = gomock.NewController(s.T())
	s.pool = mocks.NewMockPoolStatuser(s.ctrl)
	s.docs = mocks.NewMockPinger(s.ctrl)
}

func (s *HealthHandlerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HealthHandlerTestSuite) get(router http.Handler) (*http.Response, map[string]any) {
	resp := testutils.MakeRequest(testutils.RequestArgs{Router: router, Method: http.MethodGet, URL: HealthRoute})
	var out map[string]any
	s.Require().NoError(testutils.DecodeBody(resp, &out))
	return resp, out
}

func (s *HealthHandlerTestSuite) TestRelational() {
	s.pool.EXPECT().Status().Return(pool.Status{State: pool.StateReady, TotalConns: 2, Builds: 1})

	resp, body := s.get(New(RouterArgs{Pool: s.pool}))
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["ok"])
	data, ok := body["data"].(map[string]any)
	s.Require().True(ok)
	poolStatus, ok := data["pool"].(map[string]any)
	s.Require().True(ok)
	s.Equal("ready", poolStatus["state"])
	s.EqualValues(2, poolStatus["totalConns"])
}

func (s *HealthHandlerTestSuite) TestUnhealthy() {
	cases := []struct {
		name  string
		args  func() RouterArgs
		state string
	}{
		{
			name: "closed pool",
			args: func() RouterArgs {
				s.pool.EXPECT().Status().Return(pool.Status{State: pool.StateClosed})
				return RouterArgs{Pool: s.pool}
			},
		},
		{
			name: "document store down",
			args: func() RouterArgs {
				s.docs.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp: connection refused"))
				return RouterArgs{Docs: s.docs}
			},
		},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			resp, body := s.get(New(t.args()))
			s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
			s.Equal(false, body["ok"])
		})
	}
}

func (s *HealthHandlerTestSuite) TestDocumentStoreOnly() {
	s.docs.EXPECT().Ping(gomock.Any()).Return(nil)

	resp, body := s.get(New(RouterArgs{Docs: s.docs}))
	s.Equal(http.StatusOK, resp.StatusCode)
	data, ok := body["data"].(map[string]any)
	s.Require().True(ok)
	s.Nil(data["pool"])
	s.Equal("up", data["docStore"])
}
