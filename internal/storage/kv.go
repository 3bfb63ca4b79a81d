package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tazhate/taskreminder/internal/clients/dapr"
)

var (
	ErrUnavailable = errors.New("state store unavailable")
	ErrNotFound    = errors.New("key not found")
)

// KV is the remote key-value transport behind the reminder store.
type KV interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Scanner is implemented by transports that can enumerate values by key prefix.
type Scanner interface {
	Scan(ctx context.Context, prefix string) ([][]byte, error)
}

// DaprState adapts the sidecar state API to KV.
type DaprState struct {
	client *dapr.Client
	store  string
}

func NewDaprState(client *dapr.Client, store string) *DaprState {
	return &DaprState{client: client, store: store}
}

func (d *DaprState) Name() string { return "dapr:" + d.store }

func (d *DaprState) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := d.client.GetState(ctx, d.store, key)
	if err != nil {
		return nil, translateDaprErr(err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (d *DaprState) Set(ctx context.Context, key string, value []byte) error {
	return translateDaprErr(d.client.SaveState(ctx, d.store, key, value))
}

func (d *DaprState) Delete(ctx context.Context, key string) error {
	return translateDaprErr(d.client.DeleteState(ctx, d.store, key))
}

func translateDaprErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dapr.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
