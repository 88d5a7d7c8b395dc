package escrow

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type DocumentBackendTestSuite struct {
	suite.Suite
	mr         *miniredis.Miniredis
	client     *redis.Client
	store      *docstore.Store
	dispatcher *gateway.Dispatcher

	productID string
	sellerID  string
	buyerID   string
}

func TestDocumentBackendSuite(t *testing.T) {
	suite.Run(t, new(DocumentBackendTestSuite))
}

func (s *DocumentBackendTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = docstore.New(s.client, discardLogger())

	backend := NewDocumentBackend(s.store, Settings{
		Rate:             decimal.RequireFromString("0.05"),
		PlatformWalletID: "platform",
		Now:              func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	s.dispatcher = newTestDispatcher(s.T(), backend, nil)

	s.productID = gofakeit.UUID()
	s.sellerID = gofakeit.Username()
	s.buyerID = "buyer-" + gofakeit.LetterN(8)

	s.putProduct(s.productID, s.sellerID, 100)
	s.putWallet(s.buyerID, 1000)
}

func (s *DocumentBackendTestSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *DocumentBackendTestSuite) putProduct(id, seller string, price int64) {
	s.Require().NoError(s.store.Put(context.Background(), CollProducts, id, domain.Product{
		ID:        id,
		Title:     gofakeit.ProductName(),
		PriceGold: price,
		Status:    domain.ProductStatusActive,
		SellerID:  seller,
	}))
}

func (s *DocumentBackendTestSuite) putWallet(owner string, balance int64) {
	s.Require().NoError(s.store.Put(context.Background(), CollWallets, owner, domain.Wallet{
		OwnerID: owner,
		Balance: balance,
	}))
}

func (s *DocumentBackendTestSuite) balance(owner string) int64 {
	var w domain.Wallet
	found, err := s.store.Get(context.Background(), CollWallets, owner, &w)
	s.Require().NoError(err)
	if !found {
		return 0
	}
	return w.Balance
}

func (s *DocumentBackendTestSuite) product() domain.Product {
	var p domain.Product
	found, err := s.store.Get(context.Background(), CollProducts, s.productID, &p)
	s.Require().NoError(err)
	s.Require().True(found)
	return p
}

func (s *DocumentBackendTestSuite) order(id string) domain.Order {
	var o domain.Order
	found, err := s.store.Get(context.Background(), CollOrders, id, &o)
	s.Require().NoError(err)
	s.Require().True(found)
	return o
}

func (s *DocumentBackendTestSuite) escrowOf(id string) domain.Escrow {
	var e domain.Escrow
	found, err := s.store.Get(context.Background(), CollEscrows, id, &e)
	s.Require().NoError(err)
	s.Require().True(found)
	return e
}

func (s *DocumentBackendTestSuite) countDocs(collection string) int {
	n := 0
	for _, k := range s.mr.Keys() {
		if strings.HasPrefix(k, "doc:"+collection+":") {
			n++
		}
	}
	return n
}

func (s *DocumentBackendTestSuite) call(op string, cc gateway.CallerContext, data map[string]any) (any, error) {
	return s.dispatcher.Call(context.Background(), op, payload(s.T(), data), cc)
}

func (s *DocumentBackendTestSuite) lock() LockResult {
	out, err := s.call(OpCreateOrder, caller(s.buyerID), map[string]any{"productId": s.productID})
	s.Require().NoError(err)
	res, ok := out.(LockResult)
	s.Require().True(ok)
	return res
}

func (s *DocumentBackendTestSuite) TestLockReleaseScenario() {
	locked := s.lock()
	s.Equal(int64(100), locked.PriceGold)
	s.Equal(int64(5), locked.CommissionGold)
	s.Equal(int64(105), locked.TotalGold)
	s.Equal(int64(895), locked.BalanceAfter)
	s.Equal(domain.OrderStatusPending, locked.Status)
	s.Equal(int64(895), s.balance(s.buyerID))

	reserved := s.product()
	s.Equal(domain.ProductStatusReserved, reserved.Status)
	s.Require().NotNil(reserved.Reservation)
	s.Equal(locked.OrderID, reserved.Reservation.OrderID)
	s.Equal(domain.EscrowStatusLocked, s.escrowOf(locked.OrderID).Status)

	out, err := s.call(OpRelease, caller(s.sellerID), map[string]any{"orderId": locked.OrderID})
	s.Require().NoError(err)
	s.Equal(SettleResult{
		OrderID:       locked.OrderID,
		Status:        domain.OrderStatusCompleted,
		EscrowStatus:  domain.EscrowStatusReleased,
		ProductStatus: domain.ProductStatusSold,
	}, out)

	s.Equal(int64(895), s.balance(s.buyerID))
	s.Equal(int64(100), s.balance(s.sellerID))
	s.Equal(int64(5), s.balance("platform"))
	s.Equal(domain.ProductStatusSold, s.product().Status)
	s.NotNil(s.order(locked.OrderID).CompletedAt)
}

func (s *DocumentBackendTestSuite) TestLockRefundScenario() {
	locked := s.lock()

	out, err := s.call(OpRefund, caller(s.buyerID), map[string]any{
		"orderId": locked.OrderID,
		"reason":  "  changed my mind ",
	})
	s.Require().NoError(err)
	res, ok := out.(SettleResult)
	s.Require().True(ok)
	s.Equal(domain.OrderStatusCanceled, res.Status)
	s.Equal(domain.EscrowStatusRefunded, res.EscrowStatus)
	s.Equal(domain.ProductStatusActive, res.ProductStatus)

	s.Equal(int64(1000), s.balance(s.buyerID))
	s.Equal(int64(0), s.balance(s.sellerID))
	s.Equal(int64(0), s.balance("platform"))

	o := s.order(locked.OrderID)
	s.Equal("changed my mind", o.Reason)
	s.NotNil(o.CanceledAt)
	s.Nil(s.product().Reservation)
	s.Equal(domain.EscrowStatusRefunded, s.escrowOf(locked.OrderID).Status)
}

func (s *DocumentBackendTestSuite) TestSelfPurchase() {
	s.putWallet(s.sellerID, 1_000_000)

	_, err := s.call(OpCreateOrder, caller(s.sellerID), map[string]any{"productId": s.productID})
	s.ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonSelfPurchase, ""))
	s.Equal(int64(1_000_000), s.balance(s.sellerID))
}

func (s *DocumentBackendTestSuite) TestLockTotalOutOfRange() {
	huge := gofakeit.UUID()
	s.putProduct(huge, s.sellerID, math.MaxInt64/100*99)

	_, err := s.call(OpCreateOrder, caller(s.buyerID), map[string]any{"productId": huge})
	s.ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonAmountOutOfRange, ""))

	s.Equal(int64(1000), s.balance(s.buyerID))
	s.Equal(0, s.countDocs(CollOrders))
	var p domain.Product
	found, getErr := s.store.Get(context.Background(), CollProducts, huge, &p)
	s.Require().NoError(getErr)
	s.Require().True(found)
	s.Equal(domain.ProductStatusActive, p.Status)
}

func (s *DocumentBackendTestSuite) TestReleaseOfPlatformListedProduct() {
	s.putProduct(s.productID, "platform", 100)
	s.putWallet("platform", 7)
	locked := s.lock()

	_, err := s.call(OpRelease, caller("platform"), map[string]any{"orderId": locked.OrderID})
	s.Require().NoError(err)

	s.Equal(int64(7+100+5), s.balance("platform"))
	s.Equal(int64(895), s.balance(s.buyerID))
}

func (s *DocumentBackendTestSuite) TestInsufficientBalanceMutatesNothing() {
	s.putWallet(s.buyerID, 104)

	_, err := s.call(OpCreateOrder, caller(s.buyerID), map[string]any{"productId": s.productID})
	s.Require().ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonInsufficientBalance, ""))
	typed, _ := rpcerr.As(err)
	s.Contains(typed.Message, "required=105 available=104")

	s.Equal(int64(104), s.balance(s.buyerID))
	s.Equal(domain.ProductStatusActive, s.product().Status)
	s.Nil(s.product().Reservation)
	s.Zero(s.countDocs(CollOrders))
	s.Zero(s.countDocs(CollEscrows))
}

func (s *DocumentBackendTestSuite) TestLockFailures() {
	sold := gofakeit.UUID()
	s.putProduct(sold, s.sellerID, 10)
	_, err := s.call(OpCreateOrder, caller(s.buyerID), map[string]any{"productId": sold})
	s.Require().NoError(err)

	cases := []struct {
		name    string
		data    map[string]any
		wantErr *rpcerr.Error
	}{
		{
			name:    "unknown product",
			data:    map[string]any{"productId": "missing"},
			wantErr: rpcerr.NotFound(rpcerr.ReasonProductNotFound, ""),
		}, {
			name:    "reserved product",
			data:    map[string]any{"productId": sold},
			wantErr: rpcerr.FailedPrecondition(rpcerr.ReasonProductNotActive, ""),
		}, {
			name:    "missing product id",
			data:    map[string]any{},
			wantErr: rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, ""),
		}, {
			name:    "buyer without override",
			data:    map[string]any{"productId": s.productID, "buyerId": "someone-else"},
			wantErr: rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, ""),
		}, {
			name:    "override without admin",
			data:    map[string]any{"productId": s.productID, "buyerId": "someone-else", "adminOverride": true},
			wantErr: rpcerr.PermissionDenied(rpcerr.ReasonAdminRequired, ""),
		},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			_, err := s.call(OpCreateOrder, caller(s.buyerID), t.data)
			s.ErrorIs(err, t.wantErr)
		})
	}
}

func (s *DocumentBackendTestSuite) TestAdminOverrideLocksForBuyer() {
	out, err := s.call(OpCreateOrder, caller("root", "admin"), map[string]any{
		"productId":     s.productID,
		"buyerId":       s.buyerID,
		"adminOverride": true,
	})
	s.Require().NoError(err)
	res, ok := out.(LockResult)
	s.Require().True(ok)

	s.Equal(int64(895), s.balance(s.buyerID))
	s.Equal(s.buyerID, s.order(res.OrderID).BuyerID)
	s.Equal(s.buyerID, s.product().Reservation.BuyerID)
}

func (s *DocumentBackendTestSuite) TestReleaseAuthorizationGating() {
	locked := s.lock()

	for _, actor := range []string{s.buyerID, "mallory"} {
		s.Run(actor, func() {
			_, err := s.call(OpRelease, caller(actor), map[string]any{"orderId": locked.OrderID})
			s.ErrorIs(err, rpcerr.PermissionDenied(rpcerr.ReasonNotOrderParty, ""))
			s.Equal(domain.OrderStatusPending, s.order(locked.OrderID).Status)
			s.Equal(int64(0), s.balance(s.sellerID))
		})
	}

	_, err := s.call(OpRelease, caller("root", "admin"), map[string]any{"orderId": locked.OrderID})
	s.Require().NoError(err)
	s.Equal(int64(100), s.balance(s.sellerID))
}

func (s *DocumentBackendTestSuite) TestSettleTwice() {
	locked := s.lock()
	_, err := s.call(OpRelease, caller(s.sellerID), map[string]any{"orderId": locked.OrderID})
	s.Require().NoError(err)

	_, err = s.call(OpRelease, caller(s.sellerID), map[string]any{"orderId": locked.OrderID})
	s.ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonOrderNotPending, ""))
	_, err = s.call(OpRefund, caller(s.buyerID), map[string]any{"orderId": locked.OrderID})
	s.ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonOrderNotPending, ""))

	s.Equal(int64(100), s.balance(s.sellerID))
	s.Equal(int64(895), s.balance(s.buyerID))
}

func (s *DocumentBackendTestSuite) TestSettleUnknownOrder() {
	_, err := s.call(OpRelease, caller(s.sellerID), map[string]any{"orderId": "missing"})
	s.ErrorIs(err, rpcerr.NotFound(rpcerr.ReasonOrderNotFound, ""))
}

func (s *DocumentBackendTestSuite) TestClientVerificationRequired() {
	cc := caller(s.buyerID)
	cc.ClientVerified = false

	_, err := s.call(OpCreateOrder, cc, map[string]any{"productId": s.productID})
	s.ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonClientNotVerified, ""))
	s.Equal(int64(1000), s.balance(s.buyerID))
}

func (s *DocumentBackendTestSuite) TestAdjust() {
	target := gofakeit.UUID()

	out, err := s.call(OpAdjust, caller("root", "admin"), map[string]any{
		"targetId": target,
		"delta":    50,
		"reason":   "compensation",
		"metadata": map[string]any{"ticket": "T-1"},
	})
	s.Require().NoError(err)
	res, ok := out.(AdjustResult)
	s.Require().True(ok)
	s.Equal(target, res.TargetID)
	s.Equal(int64(50), res.Balance)
	s.Equal(int64(50), res.Delta)
	s.Equal(int64(50), s.balance(target))

	var entry domain.LedgerEntry
	found, err := s.store.Get(context.Background(), CollLedger, res.LedgerEntryID, &entry)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal("root", entry.ActorID)
	s.Equal(int64(50), entry.BalanceAfter)
	s.Equal("compensation", entry.Reason)
	s.Equal("T-1", entry.Metadata["ticket"])

	cases := []struct {
		name    string
		cc      gateway.CallerContext
		data    map[string]any
		wantErr *rpcerr.Error
	}{
		{
			name:    "not an admin",
			cc:      caller(s.buyerID),
			data:    map[string]any{"targetId": s.buyerID, "delta": 10},
			wantErr: rpcerr.PermissionDenied(rpcerr.ReasonPolicyDenied, ""),
		}, {
			name:    "zero delta",
			cc:      caller("root", "admin"),
			data:    map[string]any{"targetId": target, "delta": 0},
			wantErr: rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, ""),
		}, {
			name:    "fractional delta",
			cc:      caller("root", "admin"),
			data:    map[string]any{"targetId": target, "delta": 1.5},
			wantErr: rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, ""),
		}, {
			name:    "missing delta",
			cc:      caller("root", "admin"),
			data:    map[string]any{"targetId": target},
			wantErr: rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, ""),
		}, {
			name:    "debit of absent wallet",
			cc:      caller("root", "admin"),
			data:    map[string]any{"targetId": "nobody", "delta": -1},
			wantErr: rpcerr.FailedPrecondition(rpcerr.ReasonNegativeBalance, ""),
		}, {
			name:    "overdraft",
			cc:      caller("root", "admin"),
			data:    map[string]any{"targetId": target, "delta": -51},
			wantErr: rpcerr.FailedPrecondition(rpcerr.ReasonNegativeBalance, ""),
		},
	}
	for _, t := range cases {
		s.Run(t.name, func() {
			_, err := s.call(OpAdjust, t.cc, t.data)
			s.ErrorIs(err, t.wantErr)
		})
	}
	s.Equal(int64(50), s.balance(target))
	s.Equal(1, s.countDocs(CollLedger))
}

func (s *DocumentBackendTestSuite) TestConcurrentLocksOnSameProduct() {
	buyers := []string{"alice", "bob", "carol", "dave"}
	for _, b := range buyers {
		s.putWallet(b, 1000)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		inactive int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			_, err := s.call(OpCreateOrder, caller(buyer), map[string]any{"productId": s.productID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case rpcerr.FailedPrecondition(rpcerr.ReasonProductNotActive, "").Is(err):
				inactive++
			}
		}(b)
	}
	wg.Wait()

	s.Equal(1, ok)
	s.Equal(len(buyers)-1, inactive)
	s.Equal(1, s.countDocs(CollOrders))

	var total int64
	for _, b := range buyers {
		total += s.balance(b)
	}
	s.Equal(int64(4*1000-105), total)
}
