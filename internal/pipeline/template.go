package pipeline

import (
	"errors"
	"image"
	"strings"
)

// MediaMarker is the placeholder the runtime expands into image embeddings.
const MediaMarker = "<__media__>"

// DefaultSystemPrompt opens every rendered conversation.
const DefaultSystemPrompt = "You are a helpful assistant."

// Control tokens of the Qwen2-VL vocabulary.
const (
	tokIMStart = "<|im_start|>"
	tokIMEnd   = "<|im_end|>"
)

// SpecialTokens lists the control tokens that never appear in decoded output.
var SpecialTokens = []string{
	"<|endoftext|>",
	tokIMStart,
	tokIMEnd,
	"<|object_ref_start|>",
	"<|object_ref_end|>",
	"<|box_start|>",
	"<|box_end|>",
	"<|quad_start|>",
	"<|quad_end|>",
	"<|vision_start|>",
	"<|vision_end|>",
	"<|vision_pad|>",
	"<|image_pad|>",
	"<|video_pad|>",
}

var controlScrubber = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(SpecialTokens)+2)
	for _, t := range SpecialTokens {
		pairs = append(pairs, t, "")
	}
	pairs = append(pairs, MediaMarker, "")
	return strings.NewReplacer(pairs...)
}()

// ScrubControlTokens removes control-token text left in s.
func ScrubControlTokens(s string) string { return controlScrubber.Replace(s) }

// TranscriptionConversation builds the single user turn: image first, then the
// instruction.
func TranscriptionConversation(img image.Image, instruction string) []Message {
	return []Message{{
		Role:  RoleUser,
		Parts: []Part{{Image: img}, {Text: instruction}},
	}}
}

// RenderChat renders msgs in the ChatML form expected by Qwen2-VL and returns
// the images in the order their markers appear. A system turn is prepended when
// msgs has none, and the assistant turn is left open for generation.
func RenderChat(msgs []Message) (string, []image.Image, error) {
	if len(msgs) == 0 {
		return "", nil, errors.New("empty conversation")
	}
	var b strings.Builder
	var images []image.Image
	if msgs[0].Role != RoleSystem {
		writeTurn(&b, RoleSystem, DefaultSystemPrompt)
	}
	for _, m := range msgs {
		var body strings.Builder
		for _, p := range m.Parts {
			if p.IsImage() {
				body.WriteString(MediaMarker)
				images = append(images, p.Image)
				continue
			}
			body.WriteString(p.Text)
		}
		writeTurn(&b, m.Role, body.String())
	}
	b.WriteString(tokIMStart)
	b.WriteString(string(RoleAssistant))
	b.WriteString("\n")
	return b.String(), images, nil
}

func writeTurn(b *strings.Builder, role Role, body string) {
	b.WriteString(tokIMStart)
	b.WriteString(string(role))
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString(tokIMEnd)
	b.WriteString("\n")
}
