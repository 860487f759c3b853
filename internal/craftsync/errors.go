package craftsync

import (
	"errors"
	"fmt"
)

var (
	ErrAuthRequired      = errors.New("auth required")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrQueueFull         = errors.New("queue full")
	ErrNotImplemented    = errors.New("not implemented")
)

type InsufficientStockError struct {
	Product   string
	Requested float64
	Available float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %.3f, available %.3f", e.Product, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func remoteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRemoteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
}
