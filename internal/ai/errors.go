package ai

import (
	"errors"

	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
)

var (
	ErrProviderUnavailable = transport.ErrProviderUnavailable
	ErrInferenceTimeout    = transport.ErrInferenceTimeout
	ErrInvalidResponse     = transport.ErrInvalidResponse
	ErrRateLimited         = transport.ErrRateLimited
	ErrInvalidRequest      = transport.ErrInvalidRequest
	ErrInvalidSpec         = errors.New("invalid job spec")
)
