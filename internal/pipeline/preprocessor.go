package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"handscribe/internal/device"
)

// Preprocessor pairs the chat template and image encoder with the runtime
// tokenizer.
type Preprocessor struct {
	tok Tokenizer
}

// NewPreprocessor returns a preprocessor backed by tok.
func NewPreprocessor(tok Tokenizer) *Preprocessor { return &Preprocessor{tok: tok} }

// EOS returns the end-of-sequence token text.
func (p *Preprocessor) EOS() string { return p.tok.EOS() }

// ApplyTemplate renders msgs and extracts their images.
func (p *Preprocessor) ApplyTemplate(msgs []Message) (string, []image.Image, error) {
	return RenderChat(msgs)
}

// Encode tokenizes text and PNG-encodes images for dev.
func (p *Preprocessor) Encode(ctx context.Context, text string, images []image.Image, dev device.Info) (Inputs, error) {
	ids, err := p.tok.Tokenize(ctx, text)
	if err != nil {
		return Inputs{}, fmt.Errorf("tokenize: %w", err)
	}
	if len(ids) == 0 {
		return Inputs{}, errors.New("tokenize: empty prompt")
	}
	in := Inputs{IDs: ids, Prompt: text, Device: dev}
	for i, img := range images {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return Inputs{}, fmt.Errorf("encode image %d: %w", i, err)
		}
		in.Images = append(in.Images, buf.Bytes())
	}
	return in, nil
}

// Decode converts ids to text without control tokens. Whitespace is left as is.
func (p *Preprocessor) Decode(ctx context.Context, ids []int) (string, error) {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if !p.tok.IsSpecial(id) {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		return "", nil
	}
	text, err := p.tok.Detokenize(ctx, kept)
	if err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	return ScrubControlTokens(text), nil
}
