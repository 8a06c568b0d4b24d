package stagework

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/job"
)

// Render muxes the audio and visuals artifacts into a final video
// using ffmpeg if one is found on PATH; otherwise it writes a notice
// explaining no encoder was available. Invoking an external encoder
// is the out-of-scope "video encoder" collaborator; Render only
// shells out to it opportunistically when present.
func Render(store *artifact.Store) func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
	return func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		ffmpeg, err := exec.LookPath("ffmpeg")
		if err != nil {
			const notice = "no ffmpeg binary found on PATH; final encode skipped\n"
			_, err := store.WriteText(jobID, stage, "final_output_notice.txt", notice, "final_output_notice")
			return err
		}

		jobDir, err := store.JobDir(jobID)
		if err != nil {
			return err
		}
		audioPath := filepath.Join(jobDir, "audio", "audio.wav")
		visualsPath := filepath.Join(jobDir, "visuals", "frame.png")
		outDir, err := store.StageDir(jobID, stage)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, "final_video.mp4")

		cmd := exec.CommandContext(ctx, ffmpeg,
			"-y",
			"-loop", "1", "-i", visualsPath,
			"-i", audioPath,
			"-c:v", "libx264", "-tune", "stillimage",
			"-c:a", "aac", "-b:a", "192k",
			"-shortest",
			outPath,
		)
		if err := cmd.Run(); err != nil {
			return err
		}

		data, err := os.ReadFile(outPath)
		if err != nil {
			return err
		}
		if _, err := store.WriteBytes(jobID, stage, "final_video.mp4", data, "final_video"); err != nil {
			return err
		}
		return nil
	}
}
