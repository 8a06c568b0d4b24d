package stagework_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/stagework"
)

func TestScriptWritesExpectedArtifacts(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	id := uuid.New()

	fn := stagework.Script(store)
	if err := fn(context.Background(), id, job.Script); err != nil {
		t.Fatal(err)
	}

	m, err := store.LoadManifest(id)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, a := range m.Artifacts {
		kinds[a.Kind] = true
	}
	if !kinds["script_markdown"] || !kinds["script_structured"] {
		t.Fatalf("expected script_markdown and script_structured, got %v", kinds)
	}
}

func TestAudioWritesWAV(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	id := uuid.New()

	fn := stagework.Audio(store)
	if err := fn(context.Background(), id, job.Audio); err != nil {
		t.Fatal(err)
	}

	m, err := store.LoadManifest(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Kind != "audio_tone" {
		t.Fatalf("expected one audio_tone artifact, got %v", m.Artifacts)
	}
}

func TestVisualsWritesPNG(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	id := uuid.New()

	fn := stagework.Visuals(store)
	if err := fn(context.Background(), id, job.Visuals); err != nil {
		t.Fatal(err)
	}

	m, err := store.LoadManifest(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Kind != "visuals_frame" {
		t.Fatalf("expected one visuals_frame artifact, got %v", m.Artifacts)
	}
}

func TestRenderFallsBackWithoutFFmpeg(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	store := artifact.NewStore(t.TempDir())
	id := uuid.New()

	fn := stagework.Render(store)
	if err := fn(context.Background(), id, job.Render); err != nil {
		t.Fatal(err)
	}

	m, err := store.LoadManifest(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Kind != "final_output_notice" {
		t.Fatalf("expected final_output_notice fallback, got %v", m.Artifacts)
	}
}
