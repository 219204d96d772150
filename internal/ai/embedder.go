// Package ai adapts external text-embedding providers to one interface.
package ai

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrShape reports a provider response whose vector count or layout does not
// match the request.
var ErrShape = errors.New("unexpected embedding shape")

var (
	ErrSharedInitialized    = errors.New("shared embedder already initialized")
	ErrSharedNotInitialized = errors.New("shared embedder not initialized")
)

// Embedder returns one vector per input text, in input order. Implementations
// hold only immutable configuration after construction and are safe for
// concurrent use.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

var (
	sharedMu sync.RWMutex
	shared   Embedder
)

// InitShared installs the process-wide embedder. It is called once at
// startup and fails if an embedder is already installed.
func InitShared(e Embedder) error {
	if e == nil {
		return errors.New("shared embedder is nil")
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return ErrSharedInitialized
	}
	shared = e
	return nil
}

func Shared() (Embedder, error) {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	if shared == nil {
		return nil, ErrSharedNotInitialized
	}
	return shared, nil
}

// CloseShared releases the process-wide embedder. Calling it again is a no-op.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil
	}
	var err error
	if c, ok := shared.(io.Closer); ok {
		err = c.Close()
	}
	shared = nil
	return err
}

func closeInner(e Embedder) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
