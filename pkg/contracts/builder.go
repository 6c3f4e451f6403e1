package contracts

// ArtifactType enumerates the typed artifacts a builder run may emit.
type ArtifactType string

const (
	ArtifactIdea       ArtifactType = "idea"
	ArtifactCopy       ArtifactType = "copy"
	ArtifactPlaybook   ArtifactType = "playbook"
	ArtifactTask       ArtifactType = "task"
	ArtifactSitePlan   ArtifactType = "site_plan"
	ArtifactSEOCluster ArtifactType = "seo_cluster"
	ArtifactPaidPlan   ArtifactType = "paid_plan"
)

// Recognized reports whether t is a known artifact type.
func (t ArtifactType) Recognized() bool {
	switch t {
	case ArtifactIdea, ArtifactCopy, ArtifactPlaybook, ArtifactTask,
		ArtifactSitePlan, ArtifactSEOCluster, ArtifactPaidPlan:
		return true
	}
	return false
}

// BuilderArtifact is one typed output of a builder run. Every artifact
// must be traceable to at least one upstream ledger entry — an empty
// lineage list is invalid.
type BuilderArtifact struct {
	Type    ArtifactType `json:"type"`
	Payload any          `json:"payload"`
	// DependsOnLedgerIDs is deduplicated and sorted by validation.
	DependsOnLedgerIDs []string `json:"depends_on_ledger_ids"`
}

// ObjectiveType enumerates recognized builder objectives.
type ObjectiveType string

const (
	ObjectiveIdeation     ObjectiveType = "ideation"
	ObjectiveCopywriting  ObjectiveType = "copywriting"
	ObjectiveSitePlan     ObjectiveType = "site_plan"
	ObjectiveSEOCampaign  ObjectiveType = "seo_campaign"
	ObjectivePaidCampaign ObjectiveType = "paid_campaign"
	ObjectivePlaybook     ObjectiveType = "playbook"
)

// Recognized reports whether o is a known objective.
func (o ObjectiveType) Recognized() bool {
	switch o {
	case ObjectiveIdeation, ObjectiveCopywriting, ObjectiveSitePlan,
		ObjectiveSEOCampaign, ObjectivePaidCampaign, ObjectivePlaybook:
		return true
	}
	return false
}

// BuilderRunRequest describes one logical builder run. ExecutionID and
// Attempt support idempotent re-submission of the same run.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type BuilderRunRequest struct {
	RobotID          string          `json:"robot_id"`
	ObjectiveType    ObjectiveType   `json:"objective_type"`
	ObjectivePayload map[string]any  `json:"objective_payload"`
	Constraints      map[string]any  `json:"constraints,omitempty"`
	CoherencePolicy  CoherencePolicy `json:"coherence_policy"`
	DryRun           bool            `json:"dry_run"`
	ExecutionID      string          `json:"execution_id,omitempty"`
	WorkflowVersion  string          `json:"workflow_version"`
	AgentVersion     string          `json:"agent_version"`
	Attempt          int             `json:"attempt"`
}
