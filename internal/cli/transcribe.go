package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"handscribe/internal/common/fsutil"
	"handscribe/internal/imageio"
)

const rule = "============================================================"

func newTranscribeCmd(a *app) *cobra.Command {
	var output, backend, dev string
	var pretty bool
	cmd := &cobra.Command{
		Use:     "transcribe <image>",
		Short:   "Transcribe handwritten text from an image to markdown",
		Example: "  handscribe transcribe note.jpg\n  handscribe transcribe note.png -o note.md --pretty\n  handscribe transcribe note.png --backend openai",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("device") {
				a.cfg.Device = dev
			}
			return a.transcribe(cmd.Context(), args[0], backend, output, pretty)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the markdown to this file")
	cmd.Flags().StringVar(&backend, "backend", "local", "Transcription backend: local|openai")
	cmd.Flags().StringVar(&dev, "device", "", "Device preference for the local backend: auto|gpu|cpu")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Render the markdown when stdout is a terminal")
	return cmd
}

func (a *app) transcribe(ctx context.Context, path, backend, output string, pretty bool) error {
	if !fsutil.PathExists(path) {
		return fmt.Errorf("file '%s' not found", path)
	}
	if _, ok := fsutil.RegularFile(path); !ok {
		return fmt.Errorf("'%s' is not a file", path)
	}
	img, info, err := imageio.DecodeFile(path)
	if err != nil {
		return fmt.Errorf("processing image: %w", err)
	}
	a.log.Debug().Str("file", path).Str("format", info.Format).Int("width", info.Width).Int("height", info.Height).Str("mode", info.Mode).Msg("image decoded")

	t, closeFn, err := a.backend(backend)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := t.Transcribe(ctx, img)
	if err != nil {
		return fmt.Errorf("processing image: %w", err)
	}
	a.log.Info().Str("id", res.ID).Str("backend", res.Backend).Dur("elapsed", res.Elapsed).Int("new_tokens", res.NewTokens).Msg("transcribed")

	body := res.Markdown
	if pretty && isTerminal(a.stdout) {
		if out, err := renderMarkdown(body, "auto"); err == nil {
			body = out
		} else {
			a.log.Warn().Err(err).Msg("render failed; printing raw markdown")
		}
	}
	fmt.Fprintf(a.stdout, "\n%s\nTRANSCRIBED TEXT:\n%s\n%s\n%s\n\n", rule, rule, body, rule)

	if output != "" {
		if err := os.WriteFile(output, []byte(res.Markdown), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		a.log.Info().Str("path", output).Msg("markdown written")
	}
	return nil
}

// backend returns the named transcriber and its release func.
func (a *app) backend(name string) (transcriber, func(), error) {
	switch name {
	case "", "local":
		svc, err := a.newLocal(a.cfg, a.log)
		if err != nil {
			return nil, nil, err
		}
		return svc, func() { _ = svc.Close() }, nil
	case "openai":
		t, err := a.newRemote(a.cfg, a.log)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q (want local or openai)", name)
}

// renderMarkdown renders md for a terminal with the given glamour style.
func renderMarkdown(md, style string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(100)}
	if style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	out, err := r.Render(md)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}
