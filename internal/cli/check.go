package cli

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/spf13/cobra"

	"handscribe/internal/device"
)

func newCheckCmd(a *app) *cobra.Command {
	var dev string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load the model and transcribe a blank test image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("device") {
				a.cfg.Device = dev
			}
			return a.check(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dev, "device", "", "Device preference: auto|gpu|cpu")
	return cmd
}

func (a *app) check(ctx context.Context) error {
	out := a.stdout
	svc, err := a.newLocal(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Fprintln(out, "Testing model loading...")
	res, err := svc.Acquire(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Using device: %s\n", res.Device.Kind)
	if res.Device.Kind == device.Accelerated {
		fmt.Fprintf(out, "GPU: %s\n", res.Device.Name)
		fmt.Fprintf(out, "GPU Memory: %.1f GB\n", res.Device.MemoryGB())
	}
	fmt.Fprintf(out, "Model loaded: %s (%s, %s download) in %.1fs\n", a.cfg.ModelRepo, res.Precision, res.Transfer, res.LoadDuration.Seconds())

	fmt.Fprintln(out, "Testing transcription...")
	r, err := svc.Transcribe(ctx, blankImage(100, 100))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Transcription finished in %.2fs (%d new tokens)\n", r.Elapsed.Seconds(), r.NewTokens)
	fmt.Fprintln(out, "Model test completed successfully!")
	return nil
}

func blankImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}
