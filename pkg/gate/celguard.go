package gate

import (
	"context"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/crewline/ratchet/pkg/contracts"
)

// GuardSet holds compiled tenant guard expressions. Guards are strictly
// downgrade-only: a guard that does not hold turns an ALLOW into a DEFER,
// but can never promote a decision. Evaluation failure also downgrades,
// so a broken expression fails closed instead of opening the gate.
type GuardSet struct {
	programs map[string]cel.Program
	exprs    map[string]string
}

// CompileGuards compiles one CEL expression per guard name. Expressions
// see the variables stage, action, objective, coherence_status, and
// confidence, and must evaluate to bool.
func CompileGuards(exprs map[string]string) (*GuardSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("stage", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("objective", cel.StringType),
		cel.Variable("coherence_status", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
	)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidationError, "guard env: %v", err)
	}

	gs := &GuardSet{
		programs: make(map[string]cel.Program, len(exprs)),
		exprs:    make(map[string]string, len(exprs)),
	}
	for name, expr := range exprs {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, contracts.NewError(contracts.CodeValidationError,
				"guard %s: %v", name, iss.Err())
		}
		if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
			return nil, contracts.NewError(contracts.CodeValidationError,
				"guard %s: expression must be boolean, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, contracts.NewError(contracts.CodeValidationError,
				"guard %s: %v", name, err)
		}
		gs.programs[name] = prg
		gs.exprs[name] = expr
	}
	return gs, nil
}

// Apply evaluates every guard against an ALLOW decision. The first guard
// that fails (or errors) downgrades the decision to DEFER with a reason
// naming the guard. Non-ALLOW decisions pass through untouched. A nil
// GuardSet is a no-op.
func (g *GuardSet) Apply(ctx context.Context, req AdvanceRequest, in contracts.PolicyInput, out *contracts.PolicyOutput) (*contracts.PolicyOutput, error) {
	if g == nil || len(g.programs) == 0 || out.Decision != contracts.DecisionAllow {
		return out, nil
	}

	vars := map[string]any{
		"stage":            req.Stage,
		"action":           string(req.Action),
		"objective":        req.Objective,
		"coherence_status": string(in.CoherenceStatus),
		"confidence":       out.Confidence,
	}
	for name, prg := range g.programs {
		val, _, err := prg.ContextEval(ctx, vars)
		if err != nil {
			return g.downgrade(out, req.Action, name, "guard evaluation failed: "+err.Error()), nil
		}
		held, ok := val.Value().(bool)
		if !ok || !held {
			return g.downgrade(out, req.Action, name, "guard did not hold"), nil
		}
	}
	return out, nil
}

func (g *GuardSet) downgrade(out *contracts.PolicyOutput, action contracts.Action, name, msg string) *contracts.PolicyOutput {
	// Keep what the engine already deferred; the downgrade only adds the
	// formerly allowed actions to that set.
	merged := append(append([]contracts.Action{}, out.DeferredActions...), out.AllowedActions...)
	deferred := contracts.DedupeActions(merged)
	if len(deferred) == 0 && action != "" {
		deferred = []contracts.Action{action}
	}
	d := *out
	d.Decision = contracts.DecisionDefer
	d.DeferredActions = deferred
	d.AllowedActions = []contracts.Action{}
	d.Reasons = append(append([]contracts.PolicyReason{}, out.Reasons...), contracts.PolicyReason{
		RuleID:   "tenant.guard." + name,
		Message:  msg,
		Severity: contracts.SeverityWarn,
		Evidence: map[string]any{"expression": g.exprs[name]},
	})
	return &d
}
