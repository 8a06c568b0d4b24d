package sql

import (
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/uptrace/bun"
)

// jobModel is the flattened row shape for one job: one pair of
// columns per stage status plus per-stage lease owner/expiry, rather
// than a separate stages table. This keeps claim/complete a
// single-row UPDATE, matching the teacher's single-table design.
type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`

	ID uuid.UUID `bun:"id,pk,type:uuid"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	Attempts  uint32  `bun:"attempts,notnull,default:0"`
	LastError *string `bun:"last_error,nullzero"`

	Metadata map[string]any `bun:"metadata,type:jsonb"`

	ScriptStatus         job.Status `bun:"script_status,notnull,default:0"`
	ScriptLeaseOwner     *string    `bun:"script_lease_owner,nullzero"`
	ScriptLeaseExpiresAt *time.Time `bun:"script_lease_expires_at,nullzero"`

	AudioStatus         job.Status `bun:"audio_status,notnull,default:0"`
	AudioLeaseOwner     *string    `bun:"audio_lease_owner,nullzero"`
	AudioLeaseExpiresAt *time.Time `bun:"audio_lease_expires_at,nullzero"`

	VisualsStatus         job.Status `bun:"visuals_status,notnull,default:0"`
	VisualsLeaseOwner     *string    `bun:"visuals_lease_owner,nullzero"`
	VisualsLeaseExpiresAt *time.Time `bun:"visuals_lease_expires_at,nullzero"`

	RenderStatus         job.Status `bun:"render_status,notnull,default:0"`
	RenderLeaseOwner     *string    `bun:"render_lease_owner,nullzero"`
	RenderLeaseExpiresAt *time.Time `bun:"render_lease_expires_at,nullzero"`
}

// stageColumns names the three columns backing one stage's state, so
// query builders can reference them by job.Stage instead of
// string-concatenating "<stage>_status" at call sites (design note
// §9, option (a)).
type stageColumns struct {
	status     string
	leaseOwner string
	leaseExp   string
}

var columnsByStage = map[job.Stage]stageColumns{
	job.Script:  {"script_status", "script_lease_owner", "script_lease_expires_at"},
	job.Audio:   {"audio_status", "audio_lease_owner", "audio_lease_expires_at"},
	job.Visuals: {"visuals_status", "visuals_lease_owner", "visuals_lease_expires_at"},
	job.Render:  {"render_status", "render_lease_owner", "render_lease_expires_at"},
}

func (jm *jobModel) stageState(stage job.Stage) job.StageState {
	switch stage {
	case job.Script:
		return job.StageState{Status: jm.ScriptStatus, LeaseOwner: jm.ScriptLeaseOwner, LeaseExpiresAt: jm.ScriptLeaseExpiresAt}
	case job.Audio:
		return job.StageState{Status: jm.AudioStatus, LeaseOwner: jm.AudioLeaseOwner, LeaseExpiresAt: jm.AudioLeaseExpiresAt}
	case job.Visuals:
		return job.StageState{Status: jm.VisualsStatus, LeaseOwner: jm.VisualsLeaseOwner, LeaseExpiresAt: jm.VisualsLeaseExpiresAt}
	default:
		return job.StageState{Status: jm.RenderStatus, LeaseOwner: jm.RenderLeaseOwner, LeaseExpiresAt: jm.RenderLeaseExpiresAt}
	}
}

func (jm *jobModel) setStageState(stage job.Stage, st job.StageState) {
	switch stage {
	case job.Script:
		jm.ScriptStatus, jm.ScriptLeaseOwner, jm.ScriptLeaseExpiresAt = st.Status, st.LeaseOwner, st.LeaseExpiresAt
	case job.Audio:
		jm.AudioStatus, jm.AudioLeaseOwner, jm.AudioLeaseExpiresAt = st.Status, st.LeaseOwner, st.LeaseExpiresAt
	case job.Visuals:
		jm.VisualsStatus, jm.VisualsLeaseOwner, jm.VisualsLeaseExpiresAt = st.Status, st.LeaseOwner, st.LeaseExpiresAt
	case job.Render:
		jm.RenderStatus, jm.RenderLeaseOwner, jm.RenderLeaseExpiresAt = st.Status, st.LeaseOwner, st.LeaseExpiresAt
	}
}

func (jm *jobModel) toJob() *job.Job {
	j := &job.Job{
		ID:        jm.ID,
		Attempts:  jm.Attempts,
		LastError: jm.LastError,
		Metadata:  jm.Metadata,
		CreatedAt: jm.CreatedAt,
		UpdatedAt: jm.UpdatedAt,
	}
	for _, stage := range job.Stages() {
		*j.Stage(stage) = jm.stageState(stage)
	}
	return j
}

func fromJob(j *job.Job) *jobModel {
	jm := &jobModel{
		ID:        j.ID,
		Attempts:  j.Attempts,
		LastError: j.LastError,
		Metadata:  j.Metadata,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	for _, stage := range job.Stages() {
		jm.setStageState(stage, *j.Stage(stage))
	}
	return jm
}
