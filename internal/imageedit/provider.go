// Package imageedit submits (image, instruction) pairs to image-editing models
// and stores the edited image.
package imageedit

import (
	"context"
	"errors"
)

type EditRequest struct {
	ImagePath   string
	Instruction string
}

// GeneratedImage carries either inline bytes or a URL to download them from.
type GeneratedImage struct {
	URL  string
	Data []byte
}

type Provider interface {
	Name() string
	Edit(ctx context.Context, req EditRequest) (*GeneratedImage, error)
}

var (
	ErrNoImageData      = errors.New("no image data in response")
	ErrNoImagePayload   = errors.New("image result has neither url nor b64_json")
	ErrUnknownResponse  = errors.New("unknown response format")
	ErrEmptyInstruction = errors.New("empty instruction")
	ErrImageNotFound    = errors.New("image not found")
)
