package storage

import (
	"context"
	"errors"
)

// ErrNotFound se devuelve cuando la clave no existe.
var ErrNotFound = errors.New("key not found")

// Store es el contrato minimo de key-value que usa el cliente.
// Los valores son opacos; session los codifica como JSON.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
