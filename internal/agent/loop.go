package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shaneholloman/weft/internal/bridge"
	"github.com/shaneholloman/weft/internal/capability"
	"github.com/shaneholloman/weft/internal/metrics"
	"github.com/shaneholloman/weft/internal/model"
)

const (
	// ApprovalTool is the reserved pseudo-tool the model calls to
	// request human sign-off before an irreversible action.
	ApprovalTool = "request_approval"

	// DefaultMaxTurns bounds one workflow instance.
	DefaultMaxTurns = 50

	// DefaultApprovalTimeout bounds the checkpoint wait.
	DefaultApprovalTimeout = 7 * 24 * time.Hour

	defaultMaxTokens = 4096

	cancelledReason = "User cancelled the workflow"
)

// Executor dispatches qualified tool names and advertises the tool
// catalogue. The bridge implements it.
type Executor interface {
	Catalogue(ctx context.Context, serverNames []string) ([]bridge.CatalogueEntry, error)
	Execute(ctx context.Context, qualifiedName string, args map[string]any) (*capability.ToolCallResult, error)
}

// Loop drives one workflow at a time: repeated model turns, tool
// dispatch, approval checkpoints, durable steps, finalization.
type Loop struct {
	host     Host
	exec     Executor
	client   model.Client
	registry *capability.Registry

	servers     []string
	modelName   string
	system      string
	maxTurns    int
	waitTimeout time.Duration
	metrics     *metrics.Metrics
}

// Option configures a Loop.
type Option func(*Loop)

// WithServers sets the active capability/server names.
func WithServers(names ...string) Option {
	return func(l *Loop) { l.servers = names }
}

// WithModel overrides the model identifier sent on each turn.
func WithModel(name string) Option {
	return func(l *Loop) { l.modelName = name }
}

// WithSystemPrompt sets the base instructions; capability guidance is
// appended to it.
func WithSystemPrompt(s string) Option {
	return func(l *Loop) { l.system = s }
}

// WithMaxTurns overrides the turn bound.
func WithMaxTurns(n int) Option {
	return func(l *Loop) { l.maxTurns = n }
}

// WithApprovalTimeout overrides the checkpoint wait bound.
func WithApprovalTimeout(d time.Duration) Option {
	return func(l *Loop) { l.waitTimeout = d }
}

// WithMetrics attaches instrumentation. Nil is fine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New builds a Loop. The registry may be nil when no hosted
// capabilities are configured.
func New(host Host, exec Executor, client model.Client, registry *capability.Registry, opts ...Option) *Loop {
	l := &Loop{
		host:        host,
		exec:        exec,
		client:      client,
		registry:    registry,
		maxTurns:    DefaultMaxTurns,
		waitTimeout: DefaultApprovalTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// run carries the in-flight state of one Run call. None of it needs to
// survive a suspension; it is rebuilt from the host on resume.
type run struct {
	loop *Loop
	id   string

	msgs      []model.Message
	overrides map[string]map[string]any // approved user edits, by qualified tool name
	nextSeq   int
}

// Run executes the workflow to a terminal state, resuming from
// persisted progress if the instance was interrupted or suspended. It
// returns the final result; a workflow that already finished returns
// its stored result unchanged.
func (l *Loop) Run(ctx context.Context, workflowID string) (*WorkflowResult, error) {
	rec, err := l.host.Workflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rec.Result != nil {
		return rec.Result, nil
	}

	l.metrics.WorkflowStarted()
	defer l.metrics.WorkflowStopped()

	r := &run{loop: l, id: workflowID, msgs: rec.Messages}
	if len(r.msgs) == 0 {
		r.msgs = []model.Message{model.TextMessage(model.RoleUser, rec.Task)}
		if err := l.host.SaveMessages(ctx, workflowID, r.msgs); err != nil {
			return nil, err
		}
	}

	steps, err := l.host.Steps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	r.nextSeq = len(steps)
	r.overrides = loadOverrides(steps)

	if rec.Status == StatusPlanning {
		if err := l.host.SetStatus(ctx, workflowID, StatusExecuting); err != nil {
			return nil, err
		}
	}

	return r.drive(ctx)
}

// drive is the turn loop proper.
func (r *run) drive(ctx context.Context) (*WorkflowResult, error) {
	for turn := 1; turn <= r.loop.maxTurns; turn++ {
		if ctx.Err() != nil {
			return r.finalize(ctx, "cancelled")
		}

		catalogue, err := r.loop.exec.Catalogue(ctx, r.loop.servers)
		if err != nil {
			return r.finalize(ctx, fmt.Sprintf("tool catalogue: %v", err))
		}

		assistant, _, err := r.turn(ctx, turn, catalogue)
		if err != nil {
			if ctx.Err() != nil {
				return r.finalize(ctx, "cancelled")
			}
			return r.finalize(ctx, fmt.Sprintf("model turn %d: %v", turn, err))
		}

		uses := toolUses(assistant)
		if len(uses) == 0 {
			break
		}

		for i, use := range uses {
			if ctx.Err() != nil {
				return r.finalize(ctx, "cancelled")
			}
			var done bool
			var reason string
			if use.Name == ApprovalTool {
				done, reason, err = r.handleApproval(ctx, turn, i, use, catalogue)
			} else {
				done, reason, err = r.dispatchTool(ctx, turn, i, use)
			}
			if err != nil {
				return nil, err
			}
			if done {
				return r.finalize(ctx, reason)
			}
		}
	}
	return r.finalize(ctx, "")
}

// turn runs one model turn as a durable step. A turn that already
// completed before an interruption is replayed from the persisted
// conversation without calling the model again.
func (r *run) turn(ctx context.Context, turn int, catalogue []bridge.CatalogueEntry) (model.Message, string, error) {
	stepID := fmt.Sprintf("turn-%d", turn)
	if prev, ok, err := r.step(ctx, stepID); err != nil {
		return model.Message{}, "", err
	} else if ok && prev.Status.Terminal() {
		msg, found := nthAssistant(r.msgs, turn)
		if !found {
			return model.Message{}, "", fmt.Errorf("workflow %s: step %s completed but conversation has no turn %d", r.id, stepID, turn)
		}
		reason, _ := prev.Payload["stop_reason"].(string)
		return msg, reason, nil
	}

	// The conversation may already hold this turn if the process died
	// between persisting the message and recording the step.
	if msg, found := nthAssistant(r.msgs, turn); found {
		if err := r.putStep(ctx, &Step{
			ID: stepID, Kind: StepTurn, Status: StepCompleted,
			Payload: map[string]any{"stop_reason": string(model.StopToolUse)},
		}); err != nil {
			return model.Message{}, "", err
		}
		return msg, string(model.StopToolUse), nil
	}

	if err := r.putStep(ctx, &Step{ID: stepID, Kind: StepTurn, Status: StepRunning, StartedAt: time.Now().UTC()}); err != nil {
		return model.Message{}, "", err
	}

	resp, err := r.loop.client.Complete(ctx, &model.Request{
		Model:     r.loop.modelName,
		System:    r.systemPrompt(),
		Messages:  r.msgs,
		Tools:     toolDefinitions(catalogue),
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		return model.Message{}, "", err
	}

	if text := resp.Text(); text != "" {
		r.loop.host.Broadcast(ctx, r.id, text)
	}

	assistant := resp.AssistantMessage()
	r.msgs = append(r.msgs, assistant)
	if err := r.loop.host.SaveMessages(ctx, r.id, r.msgs); err != nil {
		return model.Message{}, "", err
	}
	if err := r.putStep(ctx, &Step{
		ID: stepID, Kind: StepTurn, Status: StepCompleted, FinishedAt: time.Now().UTC(),
		Payload: map[string]any{"stop_reason": string(resp.StopReason)},
	}); err != nil {
		return model.Message{}, "", err
	}
	r.loop.metrics.Turn(string(resp.StopReason))
	return assistant, string(resp.StopReason), nil
}

// handleApproval runs the request_approval pseudo-tool: validate the
// request, park the workflow at a checkpoint, and apply the external
// resolution. Returns done=true when the resolution terminates the
// whole workflow.
func (r *run) handleApproval(ctx context.Context, turn, idx int, use model.ToolUse, catalogue []bridge.CatalogueEntry) (done bool, reason string, err error) {
	stepID := fmt.Sprintf("approval-%d-%d", turn, idx)
	prev, exists, err := r.step(ctx, stepID)
	if err != nil {
		return false, "", err
	}
	if exists && prev.Status.Terminal() {
		// Resolved before an interruption; repair the conversation if
		// the resolution's result message was not persisted.
		if !hasToolResult(r.msgs, use.ID) {
			text, isErr := recordedOutcome(prev)
			return false, "", r.appendResult(ctx, use.ID, text, isErr)
		}
		return false, "", nil
	}

	var cp *CheckpointRequest
	if exists && prev.Status == StepAwaitingApproval {
		// Resuming a suspended checkpoint.
		cp = checkpointFromPayload(stepID, prev.Payload)
	} else {
		tool, _ := use.Input["tool"].(string)
		action, _ := use.Input["action"].(string)
		data, _ := use.Input["data"].(map[string]any)
		if tool == "" || action == "" || use.Input["data"] == nil {
			return false, "", r.approvalInvalid(ctx, stepID, use,
				"request_approval requires tool, action and data")
		}

		required := requiredFields(catalogue, tool)
		if missing := missingFields(required, data); len(missing) > 0 {
			return false, "", r.approvalInvalid(ctx, stepID, use,
				fmt.Sprintf("missing required fields for %s: %s", tool, strings.Join(missing, ", ")))
		}

		cp = &CheckpointRequest{StepID: stepID, Tool: tool, Action: action, Data: data, RequiredFields: required}
		if err := r.putStep(ctx, &Step{
			ID: stepID, Kind: StepApproval, Status: StepAwaitingApproval, StartedAt: time.Now().UTC(),
			Payload: map[string]any{"tool": tool, "action": action, "data": data, "required": anySlice(required)},
		}); err != nil {
			return false, "", err
		}
		if err := r.loop.host.SaveCheckpoint(ctx, r.id, cp); err != nil {
			return false, "", err
		}
		if err := r.loop.host.SetStatus(ctx, r.id, StatusCheckpoint); err != nil {
			return false, "", err
		}
		_ = r.loop.host.AppendLog(ctx, r.id, fmt.Sprintf("awaiting approval: %s", action))
	}

	r.loop.metrics.CheckpointOpened()
	res, waitErr := r.loop.host.WaitForEvent(ctx, r.id, r.loop.waitTimeout)
	r.loop.metrics.CheckpointClosed()
	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			// Process unload while suspended. The checkpoint stays
			// open; a later run resumes the wait from persisted state.
			return false, "", waitErr
		}
		r.failStep(ctx, stepID, map[string]any{"error": waitErr.Error()})
		return true, fmt.Sprintf("approval wait: %v", waitErr), nil
	}

	switch res.Action {
	case ResolutionCancel:
		r.failStep(ctx, stepID, map[string]any{"cancelled": true})
		if err := r.loop.host.SaveCheckpoint(ctx, r.id, nil); err != nil {
			return false, "", err
		}
		return true, cancelledReason, nil

	case ResolutionRequestChanges:
		if err := r.completeStep(ctx, stepID, map[string]any{"approved": false, "feedback": res.Feedback}); err != nil {
			return false, "", err
		}
		if err := r.resumeExecuting(ctx); err != nil {
			return false, "", err
		}
		text := "Approval was not granted."
		if res.Feedback != "" {
			text += " Feedback: " + res.Feedback
		}
		return false, "", r.appendResult(ctx, use.ID, text, false)

	case ResolutionApprove:
		payload := map[string]any{"approved": true, "tool": cp.Tool}
		text := fmt.Sprintf("Approved: %s.", cp.Action)
		if len(res.Data) > 0 {
			payload["data"] = res.Data
			r.overrides[cp.Tool] = res.Data
			text += " The user edited the proposed data; use it as given."
		}
		if err := r.completeStep(ctx, stepID, payload); err != nil {
			return false, "", err
		}
		if err := r.resumeExecuting(ctx); err != nil {
			return false, "", err
		}
		return false, "", r.appendResult(ctx, use.ID, text, false)

	default:
		r.failStep(ctx, stepID, map[string]any{"error": "unknown resolution " + res.Action})
		return true, fmt.Sprintf("unknown approval resolution %q", res.Action), nil
	}
}

// approvalInvalid records a rejected approval request and feeds the
// model an actionable error result. No checkpoint is created.
func (r *run) approvalInvalid(ctx context.Context, stepID string, use model.ToolUse, msg string) error {
	if err := r.putStep(ctx, &Step{
		ID: stepID, Kind: StepApproval, Status: StepCompleted, FinishedAt: time.Now().UTC(),
		Payload: map[string]any{"validation_error": msg},
	}); err != nil {
		return err
	}
	return r.appendResult(ctx, use.ID, msg, true)
}

// dispatchTool runs one real tool call as a durable step. Returns
// done=true only for configuration failures, which abort the workflow.
func (r *run) dispatchTool(ctx context.Context, turn, idx int, use model.ToolUse) (done bool, reason string, err error) {
	stepID := fmt.Sprintf("tool-%d-%d", turn, idx)
	if prev, ok, err := r.step(ctx, stepID); err != nil {
		return false, "", err
	} else if ok && prev.Status.Terminal() {
		// Already executed. Repair the conversation if the process died
		// between recording the step and persisting its result message.
		if !hasToolResult(r.msgs, use.ID) {
			text, isErr := recordedOutcome(prev)
			return false, "", r.appendResult(ctx, use.ID, text, isErr)
		}
		return false, "", nil
	}

	started := time.Now().UTC()
	if err := r.putStep(ctx, &Step{
		ID: stepID, Kind: StepTool, Status: StepRunning, StartedAt: started,
		Payload: map[string]any{"tool": use.Name},
	}); err != nil {
		return false, "", err
	}

	args := use.Input
	if edited, ok := r.overrides[use.Name]; ok {
		args = mergeArgs(args, edited)
		delete(r.overrides, use.Name)
	}

	result, execErr := r.loop.exec.Execute(ctx, use.Name, args)
	finished := time.Now().UTC()
	server, _, _ := strings.Cut(use.Name, bridge.Separator)

	if execErr != nil {
		var cfgErr *bridge.ConfigError
		if errors.As(execErr, &cfgErr) {
			r.loop.metrics.ToolCall(server, "failed", finished.Sub(started))
			if err := r.putTerminal(ctx, stepID, StepFailed, started, finished,
				map[string]any{"tool": use.Name, "error": execErr.Error()}); err != nil {
				return false, "", err
			}
			return true, execErr.Error(), nil
		}
		// Transport, protocol and resolution failures abort only this
		// call; the model gets to react.
		log.Printf("agent: workflow %s tool %s: %v", r.id, use.Name, execErr)
		r.loop.metrics.ToolCall(server, "failed", finished.Sub(started))
		if err := r.putTerminal(ctx, stepID, StepFailed, started, finished,
			map[string]any{"tool": use.Name, "error": execErr.Error()}); err != nil {
			return false, "", err
		}
		return false, "", r.appendResult(ctx, use.ID, execErr.Error(), true)
	}

	if result.IsError {
		r.loop.metrics.ToolCall(server, "failed", finished.Sub(started))
		if err := r.putTerminal(ctx, stepID, StepFailed, started, finished,
			map[string]any{"tool": use.Name, "error": result.Text()}); err != nil {
			return false, "", err
		}
		return false, "", r.appendResult(ctx, use.ID, result.Text(), true)
	}

	text := result.Text()
	if text == "" {
		text = "(no content)"
	}
	payload := map[string]any{"tool": use.Name, "result": sanitizeResult(text)}
	if artifact := r.extractArtifact(use.Name, result); artifact != nil {
		payload["artifact"] = map[string]any{
			"type": artifact.Type, "title": artifact.Title,
			"url": artifact.URL, "content": artifact.Content,
		}
		_ = r.loop.host.AppendLog(ctx, r.id, fmt.Sprintf("artifact: %s %s", artifact.Type, artifact.Title))
	}
	r.loop.metrics.ToolCall(server, "completed", finished.Sub(started))
	if err := r.putTerminal(ctx, stepID, StepCompleted, started, finished, payload); err != nil {
		return false, "", err
	}
	return false, "", r.appendResult(ctx, use.ID, text, false)
}

// extractArtifact applies the capability's declared classification; an
// unclassified success still yields a generic artifact when it carries
// a URL.
func (r *run) extractArtifact(qualifiedName string, result *capability.ToolCallResult) *Artifact {
	server, _, _ := strings.Cut(qualifiedName, bridge.Separator)
	var class *capability.ArtifactClass
	if r.loop.registry != nil {
		if _, desc, ok := r.loop.registry.ByServerName(server); ok {
			class = desc.Artifact
		}
	}

	url, _ := stringField(result.StructuredContent, "url")
	title, _ := stringField(result.StructuredContent, "title")

	if class != nil && class.ContentLocation == capability.ContentInline {
		content := result.Text()
		if content == "" {
			return nil
		}
		return &Artifact{Type: class.Type, Title: title, Content: content}
	}
	if class != nil {
		if url == "" {
			return nil
		}
		return &Artifact{Type: class.Type, Title: title, URL: url}
	}
	if url != "" {
		return &Artifact{Type: "link", Title: title, URL: url}
	}
	return nil
}

// finalize persists the terminal result. An empty reason means the
// loop ended on its own and the business rule decides success: no
// failed steps, or at least one artifact despite isolated failures.
func (r *run) finalize(ctx context.Context, reason string) (*WorkflowResult, error) {
	// The terminal state must be persisted even when the run itself was
	// cancelled.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	steps, err := r.loop.host.Steps(ctx, r.id)
	if err != nil {
		return nil, err
	}

	var failed []string
	var artifacts []Artifact
	turns := 0
	for _, s := range steps {
		switch {
		case s.Kind == StepTurn && s.Status == StepCompleted:
			turns++
		case s.Status == StepFailed:
			failed = append(failed, s.ID)
		}
		if a := artifactFromPayload(s.Payload); a != nil {
			artifacts = append(artifacts, *a)
		}
	}

	result := &WorkflowResult{TurnCount: turns, Artifacts: artifacts}
	switch {
	case reason != "":
		result.Error = reason
		result.FailedSteps = failed
	case len(failed) == 0 || len(artifacts) > 0:
		result.Success = true
		for _, id := range failed {
			result.Warnings = append(result.Warnings, fmt.Sprintf("step %s failed but the workflow recovered", id))
		}
	default:
		result.Error = fmt.Sprintf("%d step(s) failed", len(failed))
		result.FailedSteps = failed
	}

	status := StatusCompleted
	outcome := "success"
	if !result.Success {
		status = StatusFailed
		outcome = "failure"
	}
	if err := r.loop.host.SetStatus(ctx, r.id, status); err != nil {
		return nil, err
	}
	if err := r.loop.host.SaveResult(ctx, r.id, result); err != nil {
		return nil, err
	}
	r.loop.metrics.WorkflowFinished(outcome)
	_ = r.loop.host.AppendLog(ctx, r.id, fmt.Sprintf("finished: %s after %d turn(s)", status, turns))
	return result, nil
}

func (r *run) systemPrompt() string {
	parts := []string{}
	if r.loop.system != "" {
		parts = append(parts, r.loop.system)
	}
	if r.loop.registry != nil {
		if g := r.loop.registry.Guidance(r.loop.servers); g != "" {
			parts = append(parts, g)
		}
	}
	return strings.Join(parts, "\n\n")
}

// appendResult feeds a tool outcome back to the model and persists the
// conversation.
func (r *run) appendResult(ctx context.Context, toolUseID, text string, isError bool) error {
	r.msgs = append(r.msgs, model.ToolResultMessage(toolUseID, sanitizeResult(text), isError))
	return r.loop.host.SaveMessages(ctx, r.id, r.msgs)
}

func (r *run) resumeExecuting(ctx context.Context) error {
	if err := r.loop.host.SaveCheckpoint(ctx, r.id, nil); err != nil {
		return err
	}
	return r.loop.host.SetStatus(ctx, r.id, StatusExecuting)
}

func (r *run) step(ctx context.Context, stepID string) (*Step, bool, error) {
	return r.loop.host.Step(ctx, r.id, stepID)
}

// putStep assigns a sequence number to new steps and preserves it on
// updates.
func (r *run) putStep(ctx context.Context, step *Step) error {
	if prev, ok, err := r.step(ctx, step.ID); err != nil {
		return err
	} else if ok {
		step.Seq = prev.Seq
		if step.StartedAt.IsZero() {
			step.StartedAt = prev.StartedAt
		}
	} else {
		step.Seq = r.nextSeq
		r.nextSeq++
	}
	return r.loop.host.PutStep(ctx, r.id, step)
}

func (r *run) putTerminal(ctx context.Context, stepID string, status StepStatus, started, finished time.Time, payload map[string]any) error {
	return r.putStep(ctx, &Step{
		ID: stepID, Kind: StepTool, Status: status,
		StartedAt: started, FinishedAt: finished, Payload: payload,
	})
}

func (r *run) completeStep(ctx context.Context, stepID string, payload map[string]any) error {
	return r.putStep(ctx, &Step{
		ID: stepID, Kind: StepApproval, Status: StepCompleted,
		FinishedAt: time.Now().UTC(), Payload: payload,
	})
}

func (r *run) failStep(ctx context.Context, stepID string, payload map[string]any) {
	if err := r.putStep(ctx, &Step{
		ID: stepID, Kind: StepApproval, Status: StepFailed,
		FinishedAt: time.Now().UTC(), Payload: payload,
	}); err != nil {
		log.Printf("agent: workflow %s: record step %s: %v", r.id, stepID, err)
	}
}

// loadOverrides rebuilds approved user edits from persisted approval
// steps so a resume applies them to the eventual real call.
func loadOverrides(steps []Step) map[string]map[string]any {
	overrides := make(map[string]map[string]any)
	for _, s := range steps {
		if s.Kind != StepApproval || s.Status != StepCompleted {
			continue
		}
		approved, _ := s.Payload["approved"].(bool)
		if !approved {
			continue
		}
		tool, _ := s.Payload["tool"].(string)
		data, _ := s.Payload["data"].(map[string]any)
		if tool != "" && data != nil {
			overrides[tool] = data
		}
	}
	return overrides
}

// toolDefinitions converts the catalogue for the model and appends the
// approval pseudo-tool.
func toolDefinitions(catalogue []bridge.CatalogueEntry) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(catalogue)+1)
	for _, e := range catalogue {
		defs = append(defs, model.ToolDefinition{
			Name:        e.QualifiedName(),
			Description: e.Schema.Description,
			InputSchema: e.Schema.InputSchema,
		})
	}
	defs = append(defs, model.ToolDefinition{
		Name:        ApprovalTool,
		Description: "Request human approval before performing an irreversible action. The referenced tool is only run after the user approves.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tool":   map[string]any{"type": "string", "description": "Qualified name of the tool to run once approved."},
				"action": map[string]any{"type": "string", "description": "Short human-readable summary of the action."},
				"data":   map[string]any{"type": "object", "description": "Proposed arguments for the tool."},
			},
			"required": []any{"tool", "action", "data"},
		},
	})
	return defs
}

// requiredFields resolves the referenced tool's approvalRequiredFields
// from the catalogue.
func requiredFields(catalogue []bridge.CatalogueEntry, qualifiedName string) []string {
	for _, e := range catalogue {
		if e.QualifiedName() == qualifiedName {
			return e.Schema.ApprovalRequiredFields
		}
	}
	return nil
}

func missingFields(required []string, data map[string]any) []string {
	var missing []string
	for _, f := range required {
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

func mergeArgs(proposed, edited map[string]any) map[string]any {
	merged := make(map[string]any, len(proposed)+len(edited))
	for k, v := range proposed {
		merged[k] = v
	}
	for k, v := range edited {
		merged[k] = v
	}
	return merged
}

// toolUses extracts the tool-use requests of an assistant message in
// the order received.
func toolUses(msg model.Message) []model.ToolUse {
	var uses []model.ToolUse
	for _, b := range msg.Content {
		if b.Type != "tool_use" {
			continue
		}
		uses = append(uses, model.ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
	}
	return uses
}

// hasToolResult reports whether the conversation already carries a
// tool_result block for the given tool-use id.
func hasToolResult(msgs []model.Message, toolUseID string) bool {
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == "tool_result" && b.ToolUseID == toolUseID {
				return true
			}
		}
	}
	return false
}

// recordedOutcome reconstructs a terminal step's tool-result text from
// its persisted payload.
func recordedOutcome(step *Step) (text string, isError bool) {
	if s, ok := step.Payload["result"].(string); ok && s != "" {
		return s, false
	}
	if s, ok := step.Payload["error"].(string); ok && s != "" {
		return s, true
	}
	if s, ok := step.Payload["validation_error"].(string); ok && s != "" {
		return s, true
	}
	if approved, ok := step.Payload["approved"].(bool); ok {
		if approved {
			return "Approved.", false
		}
		return "Approval was not granted.", false
	}
	return "(no content)", step.Status == StepFailed
}

// nthAssistant returns the n-th assistant message (1-based) of the
// conversation, which is the persisted reply of turn n.
func nthAssistant(msgs []model.Message, n int) (model.Message, bool) {
	count := 0
	for _, m := range msgs {
		if m.Role != model.RoleAssistant {
			continue
		}
		count++
		if count == n {
			return m, true
		}
	}
	return model.Message{}, false
}

func checkpointFromPayload(stepID string, payload map[string]any) *CheckpointRequest {
	cp := &CheckpointRequest{StepID: stepID}
	cp.Tool, _ = payload["tool"].(string)
	cp.Action, _ = payload["action"].(string)
	cp.Data, _ = payload["data"].(map[string]any)
	if raw, ok := payload["required"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				cp.RequiredFields = append(cp.RequiredFields, s)
			}
		}
	}
	return cp
}

func artifactFromPayload(payload map[string]any) *Artifact {
	raw, ok := payload["artifact"].(map[string]any)
	if !ok {
		return nil
	}
	a := &Artifact{}
	a.Type, _ = raw["type"].(string)
	a.Title, _ = raw["title"].(string)
	a.URL, _ = raw["url"].(string)
	a.Content, _ = raw["content"].(string)
	return a
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok && s != ""
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
