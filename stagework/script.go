// Package stagework supplies minimal, clearly-labeled demo stage
// functions so the worker and dev CLI commands have something
// concrete to run end-to-end. None of this is the scheduler's
// concern: every function here has the shape pipeline.StageFunc and
// depends on nothing but package artifact and job.Stage.
package stagework

import (
	"context"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/job"
)

// Script writes a placeholder markdown script and its structured JSON
// form, matching the original prototype's manifest expectations
// (kinds script_markdown/script_structured under script/script.md and
// script/script.json).
func Script(store *artifact.Store) func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
	return func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		const markdown = "# Untitled\n\nGenerated placeholder script.\n"
		if _, err := store.WriteText(jobID, stage, "script.md", markdown, "script_markdown"); err != nil {
			return err
		}
		structured := map[string]any{
			"title":  "Untitled",
			"beats":  []string{"intro", "body", "outro"},
			"length": 3,
		}
		if _, err := store.WriteJSON(jobID, stage, "script.json", structured, "script_structured"); err != nil {
			return err
		}
		return nil
	}
}
