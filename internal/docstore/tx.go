package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type write struct {
	key    string
	value  []byte
	delete bool
}

// Tx одна попытка транзакции. Чтения видят собственные несохраненные записи.
type Tx struct {
	ctx     context.Context
	rtx     *redis.Tx
	prefix  string
	watched map[string]struct{}
	pending map[string]*write
	order   []string
}

func newTx(ctx context.Context, rtx *redis.Tx, prefix string) *Tx {
	return &Tx{
		ctx:     ctx,
		rtx:     rtx,
		prefix:  prefix,
		watched: make(map[string]struct{}),
		pending: make(map[string]*write),
	}
}

// Get читает документ и ставит ключ под наблюдение. false, если документа нет.
func (t *Tx) Get(collection, id string, dest any) (bool, error) {
	k := key(t.prefix, collection, id)
	if w, ok := t.pending[k]; ok {
		if w.delete {
			return false, nil
		}
		return true, json.Unmarshal(w.value, dest)
	}
	if err := t.watch(k); err != nil {
		return false, err
	}

	raw, err := t.rtx.Get(t.ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err //nolint:wrapcheck
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Set планирует запись документа. Применяется при фиксации транзакции.
func (t *Tx) Set(collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	k := key(t.prefix, collection, id)
	t.stage(k, &write{key: k, value: raw})
	return nil
}

// Delete планирует удаление документа.
func (t *Tx) Delete(collection, id string) {
	k := key(t.prefix, collection, id)
	t.stage(k, &write{key: k, delete: true})
}

func (t *Tx) stage(k string, w *write) {
	if _, ok := t.pending[k]; !ok {
		t.order = append(t.order, k)
	}
	t.pending[k] = w
}

func (t *Tx) watch(k string) error {
	if _, ok := t.watched[k]; ok {
		return nil
	}
	if err := t.rtx.Watch(t.ctx, k).Err(); err != nil {
		return err //nolint:wrapcheck
	}
	t.watched[k] = struct{}{}
	return nil
}

func (t *Tx) commit() error {
	if len(t.order) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(t.ctx, func(p redis.Pipeliner) error {
		for _, k := range t.order {
			w := t.pending[k]
			if w.delete {
				p.Del(t.ctx, w.key)
				continue
			}
			p.Set(t.ctx, w.key, w.value, 0)
		}
		return nil
	})
	return err //nolint:wrapcheck
}
