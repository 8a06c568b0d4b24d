package stagework

import (
	"bytes"
	"context"

	"github.com/fogleman/gg"
	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/job"
)

const (
	frameWidth  = 1280
	frameHeight = 720
)

// Visuals renders a placeholder title-card frame: a solid background
// with a centered accent circle, encoded as PNG. Grounded in the
// retrieval pack's media pipeline, which reaches for fogleman/gg for
// exactly this kind of pure-Go 2D rendering.
func Visuals(store *artifact.Store) func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
	return func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		dc := gg.NewContext(frameWidth, frameHeight)
		dc.SetRGB(0.08, 0.08, 0.1)
		dc.Clear()
		dc.SetRGB(0.9, 0.3, 0.2)
		dc.DrawCircle(frameWidth/2, frameHeight/2, 120)
		dc.Fill()

		var buf bytes.Buffer
		if err := dc.EncodePNG(&buf); err != nil {
			return err
		}
		if _, err := store.WriteBytes(jobID, stage, "frame.png", buf.Bytes(), "visuals_frame"); err != nil {
			return err
		}
		return nil
	}
}
