// Package artifact implements the per-job artifact directory tree and
// its manifest, the out-of-scope collaborator spec.md's §6 sketches
// for completeness so scheduler tests can observe stage output.
//
// It is grounded directly on the original Python prototype's
// artifacts.py: one directory per job, one subdirectory per stage, and
// a manifest.json at the job root listing every written artifact,
// de-duplicated by relpath so a re-run of a stage replaces rather than
// duplicates its earlier record.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
)

const (
	manifestFilename = "manifest.json"
	jobSpecFilename  = "job_spec.json"
)

// Record describes one artifact written for a job.
type Record struct {
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Relpath   string `json:"relpath"`
	Bytes     int    `json:"bytes"`
	SHA256    string `json:"sha256"`
	CreatedAt string `json:"created_at"`
}

// Manifest is the root manifest.json document for one job.
type Manifest struct {
	JobID     string   `json:"job_id"`
	Artifacts []Record `json:"artifacts"`
}

// Store roots an artifact tree at a configurable directory. A process
// normally holds exactly one Store; Store is safe for concurrent use.
type Store struct {
	Root string

	mu sync.Mutex
}

// NewStore returns a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

// JobDir returns (creating if necessary) the directory for one job.
func (s *Store) JobDir(id uuid.UUID) (string, error) {
	p := filepath.Join(s.Root, id.String())
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

// StageDir returns (creating if necessary) one job's per-stage
// directory.
func (s *Store) StageDir(id uuid.UUID, stage job.Stage) (string, error) {
	jobDir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	p := filepath.Join(jobDir, stage.String())
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Store) manifestPath(id uuid.UUID) (string, error) {
	jobDir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(jobDir, manifestFilename), nil
}

func (s *Store) loadManifest(id uuid.UUID) (*Manifest, error) {
	p, err := s.manifestPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return &Manifest{JobID: id.String()}, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) writeManifest(id uuid.UUID, m *Manifest) error {
	p, err := s.manifestPath(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// appendManifest inserts rec into the job's manifest, replacing any
// existing record with the same Relpath.
func (s *Store) appendManifest(id uuid.UUID, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest(id)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range m.Artifacts {
		if existing.Relpath == rec.Relpath {
			m.Artifacts[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		m.Artifacts = append(m.Artifacts, rec)
	}
	return s.writeManifest(id, m)
}

// WriteBytes writes data to stage's filename under the job's
// directory and records it in the manifest under kind, returning the
// absolute path written.
func (s *Store) WriteBytes(id uuid.UUID, stage job.Stage, filename string, data []byte, kind string) (string, error) {
	dir, err := s.StageDir(id, stage)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, filename)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}

	jobDir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(jobDir, p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	rec := Record{
		Stage:     stage.String(),
		Kind:      kind,
		Relpath:   filepath.ToSlash(rel),
		Bytes:     len(data),
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.appendManifest(id, rec); err != nil {
		return "", err
	}
	return p, nil
}

// WriteText is WriteBytes for a UTF-8 string.
func (s *Store) WriteText(id uuid.UUID, stage job.Stage, filename, text, kind string) (string, error) {
	return s.WriteBytes(id, stage, filename, []byte(text), kind)
}

// WriteJSON marshals obj with two-space indentation and writes it via
// WriteText.
func (s *Store) WriteJSON(id uuid.UUID, stage job.Stage, filename string, obj any, kind string) (string, error) {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", err
	}
	return s.WriteText(id, stage, filename, string(data), kind)
}

// LoadManifest returns the manifest for a job, or an empty manifest if
// none has been written yet.
func (s *Store) LoadManifest(id uuid.UUID) (*Manifest, error) {
	return s.loadManifest(id)
}

// WriteJobSpec persists spec as job_spec.json at the job's root,
// outside any stage directory — the Go-native counterpart of the
// original prototype's write_job_spec, reinstated here because
// create_job already accepts an optional jobspec.Spec.
func (s *Store) WriteJobSpec(id uuid.UUID, spec *jobspec.Spec) error {
	jobDir, err := s.JobDir(id)
	if err != nil {
		return err
	}
	var metadata map[string]any
	if spec != nil {
		metadata = spec.Metadata
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(jobDir, jobSpecFilename), data, 0o644)
}

// LoadJobSpec reads back job_spec.json, returning (nil, nil) if the
// job has none.
func (s *Store) LoadJobSpec(id uuid.UUID) (*jobspec.Spec, error) {
	jobDir, err := s.JobDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(jobDir, jobSpecFilename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return &jobspec.Spec{Metadata: metadata}, nil
}

// Clean removes the entire artifacts root, backing the clean-artifacts
// CLI command's default (unqualified) behavior.
func (s *Store) Clean() error {
	return os.RemoveAll(s.Root)
}
