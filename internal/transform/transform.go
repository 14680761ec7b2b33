package transform

import (
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/prosody-service/internal/core"
)

// ErrUnknownKind is returned by New for an unrecognized transform kind.
var ErrUnknownKind = errors.New("unknown transform kind")

// New selects the transform implementation by kind. An empty kind selects
// the in-process transform.
func New(kind, binary, tempDir string, log *logger.Logger) (core.AudioTransform, error) {
	switch kind {
	case "", KIND_INPROCESS:
		return NewInProcess(), nil
	case KIND_EXTERNAL:
		return NewExternal(binary, tempDir, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
