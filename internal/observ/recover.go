package observ

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// WrapWithRecovery runs fn and turns a panic into an error. The panic value
// and stack are logged under operation.
func WrapWithRecovery(ctx context.Context, logger *zap.Logger, operation string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered from panic",
				zap.String("operation", operation),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &PanicError{Operation: operation, Value: r}
		}
	}()
	return fn(ctx)
}

// PanicError carries a recovered panic value.
type PanicError struct {
	Operation string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during %s: %v", e.Operation, e.Value)
}
