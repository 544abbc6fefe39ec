package processing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/docqueue/types"
)

// PassthroughMode is the mode reported by the passthrough engine.
const PassthroughMode = "passthrough"

// Passthrough is an engine that extracts nothing and describes the document instead.
//
// It lets the binary run the whole pipeline without a model. Data carries the
// document size, sniffed content type, an xxh3 checksum and the requested
// pre-processing steps.
type Passthrough struct{}

var _ types.Engine = Passthrough{}

// Process implements types.Engine.
func (Passthrough) Process(ctx context.Context, data []byte, opts types.Options) (*types.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	steps := opts.PreProcessing()
	if steps == nil {
		steps = []string{}
	}

	return &types.Output{
		Data: map[string]any{
			"bytes":         len(data),
			"contentType":   http.DetectContentType(data),
			"checksum":      fmt.Sprintf("%016x", xxh3.Hash(data)),
			"preProcessing": steps,
		},
		Language: "und",
		Mode:     PassthroughMode,
	}, nil
}
