// Package guard composes the full authorization pipeline around one proposed
// command: policy evaluation, sandbox validation, the confirmation gate, and
// safety-managed execution. Each stage can only move the request toward a
// more restrictive outcome; nothing downgrades or retries.
package guard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agentguard/internal/confirm"
	"agentguard/internal/domain"
	"agentguard/internal/metrics"
	"agentguard/internal/policy"
	"agentguard/internal/safety"
	"agentguard/internal/sandbox"
	"agentguard/internal/secrets"
)

// ConfirmFunc asks the user to approve a prompt and reports the answer. It is
// how the agent layer (chat, terminal, API) plugs into the gate without the
// guard knowing about transports.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Status is the terminal state of one authorization attempt.
type Status string

const (
	StatusDenied          Status = "denied"            // policy engine said no
	StatusRejected        Status = "rejected"          // sandbox or safety validation failed
	StatusDeclined        Status = "declined"          // user refused the confirmation prompt
	StatusTimedOut        Status = "timed_out"         // execution exceeded the wall-clock limit
	StatusOutputTooLarge  Status = "output_too_large"  // combined output exceeded the cap
	StatusDangerousOutput Status = "dangerous_output"  // output scan suppressed the result
	StatusFailed          Status = "failed"            // spawned but exited with an error
	StatusCompleted       Status = "completed"
)

// Request is one proposed command.
type Request struct {
	User    string
	Command string
}

// Result is the outcome of authorizing (and possibly executing) a request.
type Result struct {
	Status   Status
	Output   string
	Reason   string
	Decision domain.PolicyDecision
	Duration time.Duration
}

// Authorizer wires the policy engine, sandbox, safety manager, confirmation
// gate, secrets detector, and audit sink into one pipeline. Built once at
// startup; safe for concurrent use.
type Authorizer struct {
	engine   *policy.Engine
	sandbox  *sandbox.Sandbox
	safety   *safety.Manager
	confirm  *confirm.Manager
	detector *secrets.Detector
	audit    domain.AuditSink
	ask      ConfirmFunc
	logger   *slog.Logger
}

// Options configure a new Authorizer. Engine, Sandbox, and Safety are
// required; the rest default to sensible values (nil audit sink disables
// persistence, nil ConfirmFunc declines everything that needs approval).
type Options struct {
	Engine   *policy.Engine
	Sandbox  *sandbox.Sandbox
	Safety   *safety.Manager
	Confirm  *confirm.Manager
	Detector *secrets.Detector
	Audit    domain.AuditSink
	Ask      ConfirmFunc
	Logger   *slog.Logger
}

// New builds an Authorizer.
func New(opts Options) *Authorizer {
	if opts.Confirm == nil {
		opts.Confirm = confirm.New(opts.Logger)
	}
	if opts.Detector == nil {
		opts.Detector = secrets.NewDetector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Authorizer{
		engine:   opts.Engine,
		sandbox:  opts.Sandbox,
		safety:   opts.Safety,
		confirm:  opts.Confirm,
		detector: opts.Detector,
		audit:    opts.Audit,
		ask:      opts.Ask,
		logger:   opts.Logger,
	}
}

// Run walks the request through the whole pipeline and, when every gate
// passes, executes it. The returned Result always has a terminal Status and
// a non-empty Reason for anything other than completion.
func (a *Authorizer) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(start) }()

	// Policy evaluation (PDP).
	policyReq := a.buildPolicyRequest(req)
	res.Decision = a.engine.EvaluateRequest(policyReq)
	a.persistDecision(ctx, res.Decision)

	if res.Decision.Action.Type == domain.ActionDeny {
		res.Status = StatusDenied
		res.Reason = res.Decision.Reason
		metrics.PolicyDenials.Inc()
		a.logEvent(ctx, domain.SeverityCritical, "policy_denial", req, res.Reason)
		return res, nil
	}

	// Sandbox validation (PEP, dry run). The safety manager will validate
	// again at execution time; this rejects early with a precise reason.
	program, args, err := sandbox.ParseCommandString(req.Command)
	if err == nil {
		err = a.sandbox.TestCommand(program, args)
	}
	if err != nil {
		res.Status = StatusRejected
		res.Reason = err.Error()
		metrics.CommandsBlocked.Inc()
		a.logEvent(ctx, domain.SeverityWarning, "sandbox_rejection", req, res.Reason)
		return res, nil
	}

	// Confirmation gate. Policy escalation forces a prompt even for commands
	// the destructive heuristic would wave through.
	needsPrompt, why := a.confirm.NeedsConfirmation(req.Command)
	if sev := res.Decision.Action.Severity(); sev >= 1 {
		needsPrompt = true
		if why == "" {
			why = res.Decision.Reason
		}
	}
	if needsPrompt {
		approved, err := a.askUser(ctx, req.Command, why)
		if err != nil {
			return nil, err
		}
		if !approved {
			res.Status = StatusDeclined
			res.Reason = "user declined confirmation: " + why
			metrics.ConfirmationsDenied.Inc()
			a.logEvent(ctx, domain.SeverityInfo, "confirmation_declined", req, why)
			return res, nil
		}
	}

	// Execution under the safety manager (throttle, ceilings, history, scan).
	metrics.ActiveCommands.Inc()
	output, err := a.safety.ExecuteSafeCommand(ctx, req.Command, req.User)
	metrics.ActiveCommands.Dec()
	metrics.ExecLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		res.Reason = err.Error()
		switch domain.KindOf(err) {
		case domain.KindTimeout:
			res.Status = StatusTimedOut
		case domain.KindOutputTooLarge:
			res.Status = StatusOutputTooLarge
		case domain.KindDangerousOutput:
			res.Status = StatusDangerousOutput
			metrics.DangerousOutputHits.Inc()
		case domain.KindUnknown:
			res.Status = StatusFailed
		default:
			res.Status = StatusRejected
			metrics.CommandsBlocked.Inc()
		}
		a.logEvent(ctx, domain.SeverityError, "execution_"+string(res.Status), req, res.Reason)
		return res, nil
	}

	res.Status = StatusCompleted
	res.Output = output
	metrics.CommandsExecuted.Inc()
	return res, nil
}

// Check runs the policy and sandbox stages only, reporting what Run would do
// without prompting or executing.
func (a *Authorizer) Check(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	res.Decision = a.engine.EvaluateRequest(a.buildPolicyRequest(req))
	a.persistDecision(ctx, res.Decision)

	if res.Decision.Action.Type == domain.ActionDeny {
		res.Status = StatusDenied
		res.Reason = res.Decision.Reason
		return res, nil
	}

	program, args, err := sandbox.ParseCommandString(req.Command)
	if err == nil {
		err = a.sandbox.TestCommand(program, args)
	}
	if err != nil {
		res.Status = StatusRejected
		res.Reason = err.Error()
		return res, nil
	}

	res.Status = StatusCompleted
	res.Reason = res.Decision.Reason
	return res, nil
}

// buildPolicyRequest derives the policy view of a command: parameters,
// secrets flag, network heuristic, path args, and a risk assessment.
func (a *Authorizer) buildPolicyRequest(req Request) domain.PolicyRequest {
	params := map[string]string{"command": req.Command}
	return domain.PolicyRequest{
		UserID:          req.User,
		ToolName:        "shell",
		Parameters:      params,
		ResourceLimits:  a.safety.Limits(),
		ContainsSecrets: a.detector.ContainsHighSeverity(req.Command),
		NetworkAccess:   isNetworkCommand(req.Command),
		FilePaths:       pathArgs(req.Command),
		RiskAssessment:  AssessRiskLevel("shell", params),
	}
}

func (a *Authorizer) askUser(ctx context.Context, command, reason string) (bool, error) {
	metrics.ConfirmationsAsked.Inc()
	if a.ask == nil {
		// No way to reach the user: fail closed.
		return false, nil
	}
	return a.ask(ctx, confirm.Prompt(command, reason))
}

func (a *Authorizer) persistDecision(ctx context.Context, decision domain.PolicyDecision) {
	if a.audit == nil {
		return
	}
	for _, entry := range a.engine.AuditTrail() {
		if entry.ID == decision.AuditID {
			if err := a.audit.LogPolicyEntry(ctx, entry); err != nil {
				a.logger.Error("policy audit persistence failed", "error", err)
			}
			return
		}
	}
}

func (a *Authorizer) logEvent(ctx context.Context, sev domain.AuditSeverity, typ string, req Request, result string) {
	a.logger.Info("authorization event", "type", typ, "user", req.User, "command", req.Command, "result", result)
	if a.audit == nil {
		return
	}
	ev := domain.AuditEvent{
		Timestamp: time.Now().UTC(),
		Severity:  sev,
		Type:      typ,
		Operation: "execute",
		Resource:  "shell",
		Result:    result,
		Details:   map[string]string{"user": req.User, "command": req.Command},
	}
	if err := a.audit.LogEvent(ctx, ev); err != nil {
		a.logger.Error("event persistence failed", "error", err)
	}
}

// networkPrograms mark a command as needing network access for the
// network_access policy condition.
var networkPrograms = []string{"curl", "wget", "ssh", "scp", "nc", "netcat", "ping", "telnet", "ftp", "rsync"}

func isNetworkCommand(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	for _, p := range networkPrograms {
		if fields[0] == p {
			return true
		}
	}
	return false
}

// pathArgs extracts path-looking tokens for file_path policy conditions.
func pathArgs(command string) []string {
	var paths []string
	for _, f := range strings.Fields(command) {
		if strings.HasPrefix(f, "/") || strings.HasPrefix(f, "./") || strings.HasPrefix(f, "../") {
			paths = append(paths, f)
		}
	}
	return paths
}
