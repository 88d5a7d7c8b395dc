package docstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type counter struct {
	Value int `json:"value"`
}

type StoreTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	l := logrus.New()
	l.SetOutput(io.Discard)
	s.store = New(s.client, l, WithMaxRetries(5))
}

func (s *StoreTestSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *StoreTestSuite) TestCommitAppliesAllWrites() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "counters", "a", counter{Value: 1}))

	err := s.store.RunTransaction(ctx, func(tx *Tx) error {
		var c counter
		found, err := tx.Get("counters", "a", &c)
		s.Require().NoError(err)
		s.Require().True(found)

		c.Value++
		s.Require().NoError(tx.Set("counters", "a", c))
		s.Require().NoError(tx.Set("counters", "b", counter{Value: 10}))

		// чтение видит собственную запись
		var again counter
		_, err = tx.Get("counters", "a", &again)
		s.Require().NoError(err)
		s.Equal(2, again.Value)
		return nil
	})
	s.Require().NoError(err)

	var a, b counter
	_, _ = s.store.Get(ctx, "counters", "a", &a)
	_, _ = s.store.Get(ctx, "counters", "b", &b)
	s.Equal(2, a.Value)
	s.Equal(10, b.Value)
	s.True(s.mr.Exists("doc:counters:a"))
}

func (s *StoreTestSuite) TestBodyErrorDiscardsWrites() {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.store.RunTransaction(ctx, func(tx *Tx) error {
		_ = tx.Set("counters", "a", counter{Value: 1})
		return boom
	})
	s.ErrorIs(err, boom)

	found, err := s.store.Get(ctx, "counters", "a", &counter{})
	s.NoError(err)
	s.False(found)
}

func (s *StoreTestSuite) TestConflictRerunsBody() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "counters", "a", counter{Value: 1}))

	attempts := 0
	err := s.store.RunTransaction(ctx, func(tx *Tx) error {
		attempts++
		var c counter
		if _, err := tx.Get("counters", "a", &c); err != nil {
			return err
		}
		if attempts == 1 {
			// конкурирующая запись после чтения
			s.Require().NoError(s.store.Put(ctx, "counters", "a", counter{Value: 100}))
		}
		c.Value++
		return tx.Set("counters", "a", c)
	})
	s.Require().NoError(err)
	s.Equal(2, attempts)

	var c counter
	_, _ = s.store.Get(ctx, "counters", "a", &c)
	s.Equal(101, c.Value)
}

func (s *StoreTestSuite) TestConflictRetriesExhausted() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "counters", "a", counter{Value: 1}))

	attempts := 0
	err := s.store.RunTransaction(ctx, func(tx *Tx) error {
		attempts++
		var c counter
		_, _ = tx.Get("counters", "a", &c)
		s.Require().NoError(s.store.Put(ctx, "counters", "a", counter{Value: attempts}))
		return tx.Set("counters", "a", counter{Value: -1})
	})

	s.Equal(5, attempts)
	s.ErrorIs(err, rpcerr.FailedPrecondition(rpcerr.ReasonTransactionConflict, ""))
}

func (s *StoreTestSuite) TestConcurrentIncrements() {
	ctx := context.Background()
	store := New(s.client, logrus.New(), WithMaxRetries(200))
	store.log.Logger.SetOutput(io.Discard)
	s.Require().NoError(store.Put(ctx, "counters", "a", counter{}))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				err := store.RunTransaction(ctx, func(tx *Tx) error {
					var c counter
					if _, err := tx.Get("counters", "a", &c); err != nil {
						return err
					}
					c.Value++
					return tx.Set("counters", "a", c)
				})
				s.NoError(err)
			}
		}()
	}
	wg.Wait()

	var c counter
	_, _ = store.Get(ctx, "counters", "a", &c)
	s.Equal(40, c.Value)
}

func (s *StoreTestSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "counters", "a", counter{Value: 1}))

	s.Require().NoError(s.store.RunTransaction(ctx, func(tx *Tx) error {
		tx.Delete("counters", "a")
		found, err := tx.Get("counters", "a", &counter{})
		s.False(found)
		return err
	}))
	s.False(s.mr.Exists("doc:counters:a"))
}
