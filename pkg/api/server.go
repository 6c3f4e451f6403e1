package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crewline/ratchet/pkg/builder"
	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/gate"
	"github.com/crewline/ratchet/pkg/ledger"
	"github.com/crewline/ratchet/pkg/structval"
)

const maxBodyBytes = 1 << 20

// Server wires the gate executor and builder service into HTTP handlers.
type Server struct {
	Gate    *gate.Executor
	Builder *builder.Service
	Ledger  ledger.Repository
	Logger  *slog.Logger
	Limiter *RateLimiter
}

// Routes builds the HTTP handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/tenants/{tenant}/robots/{robot}/stages/{stage}/advance", s.handleAdvance)
	mux.HandleFunc("POST /v1/tenants/{tenant}/robots/{robot}/builder/runs", s.handleBuilderRun)
	mux.HandleFunc("GET /v1/tenants/{tenant}/robots/{robot}/ledger", s.handleLedgerList)

	var h http.Handler = mux
	if s.Limiter != nil {
		h = s.Limiter.Middleware(h)
	}
	h = Logging(s.logger(), h)
	return RequestID(h)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// advanceRequest is the body of a stage-advance call. The caller has
// already computed the stage's result; the gate decides whether it may be
// recorded.
type advanceRequest struct {
	Action     string               `json:"action"`
	Objective  string               `json:"objective,omitempty"`
	Thresholds contracts.Thresholds `json:"thresholds"`
	Payload    map[string]any       `json:"payload,omitempty"`
	Lineage    []string             `json:"lineage,omitempty"`
	// OverrideReason, when set, requests the non-production override of
	// a DEFER decision.
	OverrideReason string `json:"override_reason,omitempty"`
}

// advanceResponse reports the decision and any recorded entries.
type advanceResponse struct {
	Decision   contracts.Decision      `json:"decision"`
	Output     *contracts.PolicyOutput `json:"policy_output"`
	GateEntry  *ledger.Entry           `json:"gate_entry,omitempty"`
	StageEntry *ledger.Entry           `json:"stage_entry,omitempty"`
	Overridden bool                    `json:"overridden,omitempty"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body advanceRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Payload != nil {
		if err := structval.CheckMap(body.Payload); err != nil {
			WriteBadRequest(w, r, "payload: "+err.Error())
			return
		}
	}

	req := gate.AdvanceRequest{
		TenantID:   r.PathValue("tenant"),
		RobotID:    r.PathValue("robot"),
		Stage:      r.PathValue("stage"),
		Action:     contracts.Action(body.Action),
		Objective:  body.Objective,
		Thresholds: body.Thresholds,
	}
	stage := func(ctx context.Context) (map[string]any, []string, error) {
		return body.Payload, body.Lineage, nil
	}

	var res *gate.Result
	var err error
	if body.OverrideReason != "" {
		res, err = s.Gate.AdvanceWithOverride(r.Context(), req, stage, body.OverrideReason)
	} else {
		res, err = s.Gate.Advance(r.Context(), req, stage)
	}
	if err != nil {
		code := contracts.CodeOf(err)
		if code == contracts.CodeValidationError {
			s.logger().Error("advance failed", "error", err,
				"tenant", req.TenantID, "robot", req.RobotID, "stage", req.Stage)
		}
		WriteProblem(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, advanceResponse{
		Decision:   res.Decision,
		Output:     res.Output,
		GateEntry:  res.GateEntry,
		StageEntry: res.StageEntry,
		Overridden: res.Overridden,
	})
}

// builderRunRequest is the body of a builder-run call: the run request
// plus the artifacts the model produced for it.
type builderRunRequest struct {
	Run       contracts.BuilderRunRequest `json:"run"`
	Artifacts []contracts.BuilderArtifact `json:"artifacts"`
}

func (s *Server) handleBuilderRun(w http.ResponseWriter, r *http.Request) {
	var body builderRunRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Run.RobotID == "" {
		body.Run.RobotID = r.PathValue("robot")
	}
	if body.Run.RobotID != r.PathValue("robot") {
		WriteBadRequest(w, r, "run robot_id does not match path")
		return
	}

	res, err := s.Builder.Run(r.Context(), r.PathValue("tenant"), body.Run,
		func(ctx context.Context, req contracts.BuilderRunRequest, draftOnly bool) ([]contracts.BuilderArtifact, error) {
			return body.Artifacts, nil
		})
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeValidationError {
			s.logger().Error("builder run failed", "error", err,
				"tenant", r.PathValue("tenant"), "robot", body.Run.RobotID)
		}
		WriteProblem(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed || res.DryRun {
		status = http.StatusOK
	}
	WriteJSON(w, status, res)
}

func (s *Server) handleLedgerList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Ledger.ListByRobot(r.Context(),
		r.PathValue("tenant"), r.PathValue("robot"))
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteBadRequest(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}
