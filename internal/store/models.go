package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Document layers, ordered by decreasing audience breadth.
// Each layer defines a distinct audience rule; see authz.CanViewDocument.
const (
	LayerApp     = "app"
	LayerOrg     = "org"
	LayerProject = "project"
	LayerUser    = "user"
)

// Document lifecycle statuses.
const (
	DocPending    = "pending"
	DocProcessing = "processing"
	DocReady      = "ready"
	DocError      = "error"
)

// Ingestion job statuses.
const (
	JobQueued     = "queued"
	JobDispatched = "dispatched"
	JobSent       = "sent"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Application roles on a profile.
const (
	RoleSuperAdmin = "super_admin"
	RoleOrgAdmin   = "org_admin"
	RoleUser       = "user"
)

// Project member roles.
const (
	ProjectRoleLeader = "leader"
	ProjectRoleMember = "member"
)

// Routing policy scopes, in descending resolution priority.
const (
	PolicyScopeOrg      = "org"
	PolicyScopeAudience = "audience"
	PolicyScopeGlobal   = "global"
)

// Document is one unit of retrievable content with its visibility metadata.
type Document struct {
	ID             uuid.UUID
	Content        string
	Embedding      *pgvector.Vector
	Layer          string
	OrgID          *uuid.UUID
	TargetProjects []uuid.UUID
	AudienceTags   []string
	CreatedBy      *uuid.UUID
	Status         string
	ErrorMessage   *string
	ChunkCount     int32
	SourceRef      string
	Filename       string
	MimeType       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IngestionJob tracks one source artifact through vectorization.
type IngestionJob struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	SourceRef      string
	Filename       string
	MimeType       string
	Layer          string
	OrgID          *uuid.UUID
	TargetProjects []uuid.UUID
	AudienceTags   []string
	CreatedBy      uuid.UUID
	Status         string
	AttemptCount   int32
	MaxAttempts    int32
	NextRetryAt    *time.Time
	LastError      *string
	WorkerResponse []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the job can never transition again:
// completed, or failed with the retry budget exhausted.
func (j *IngestionJob) Terminal() bool {
	if j.Status == JobCompleted {
		return true
	}
	return j.Status == JobFailed && j.AttemptCount >= j.MaxAttempts
}

// Profile is a caller identity row.
type Profile struct {
	ID       uuid.UUID
	OrgID    *uuid.UUID
	AppRole  *string
	FullName *string
}

// ProjectMembership is one (project, role) pair for a user.
type ProjectMembership struct {
	ProjectID uuid.UUID
	Role      string
}

// ProjectIdentity is the stored identity of a project used to shape routing.
type ProjectIdentity struct {
	MarketType  *string
	ProjectType *string
	Description *string
}

// RoutingPolicy is one resolved row of the routing policy chain.
type RoutingPolicy struct {
	ID           uuid.UUID
	Scope        string
	OrgID        *uuid.UUID
	Audience     *string
	SystemPrompt string
	ModelName    string
	Temperature  float32
}
