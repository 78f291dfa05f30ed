package content

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	"github.com/nearloop/backend/domain/moderation"
)

// defaultBotRuleScript is the bot moderator's advisory rule set (spec.md
// §4.5: "apply rules (NSFW threshold, LLM call for profile texts/names
// against a configured prompt)"). It is deliberately small and
// data-driven: an operator can swap it for a different script without a
// binary rebuild. evaluate receives one `input` object and must return
// an object with a `decision` field of "accept", "reject" or "escalate".
const defaultBotRuleScript = `
function evaluate(input) {
	if (input.nsfw_score >= input.nsfw_threshold) {
		return {decision: "reject", category: "nsfw", reason: "automated nsfw score " + input.nsfw_score + " at/above threshold " + input.nsfw_threshold};
	}
	if (input.target === "content" && !input.face_detected) {
		return {decision: "escalate"};
	}
	if (input.target !== "content" && input.prompt_flagged) {
		return {decision: "escalate"};
	}
	return {decision: "accept"};
}
`

// BotRuleConfig parameterizes the advisory rule script without requiring
// a different script per deployment.
type BotRuleConfig struct {
	// Script is the goja-evaluated rule body; defaults to
	// defaultBotRuleScript when empty.
	Script string
	// NSFWThreshold is the classifier score (0-1) at/above which content
	// is auto-rejected.
	NSFWThreshold float64
	// Prompt is the configured instruction profile texts/names are
	// judged against by whatever upstream classifier produced the
	// classifierJSON passed to Evaluate (spec.md §4.5's "LLM call ...
	// against a configured prompt"); this engine does not call the LLM
	// itself, it only carries the prompt through to the rule script so
	// the script's decision can be audited against it.
	Prompt string
}

// DefaultBotRuleConfig returns the rule config new Engines are built
// with absent an operator override.
func DefaultBotRuleConfig() BotRuleConfig {
	return BotRuleConfig{Script: defaultBotRuleScript, NSFWThreshold: 0.85}
}

// BotVerdict is the advisory outcome EvaluateBotRule produces. The
// server does not trust it beyond the admin auth boundary the bot
// authenticates under (spec.md §4.5: "purely advisory").
type BotVerdict struct {
	Decision moderation.Decision
	Category string
	Reason   string
	Escalate bool
}

// BotRuleEngine evaluates BotRuleConfig.Script against a classifier's
// JSON reply. goja.Runtime is not safe for concurrent use, so one
// instance is reused under a mutex rather than compiled per call.
type BotRuleEngine struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	cfg    BotRuleConfig
	evalJS goja.Callable
}

// NewBotRuleEngine compiles cfg.Script (or the default) once.
func NewBotRuleEngine(cfg BotRuleConfig) (*BotRuleEngine, error) {
	if cfg.Script == "" {
		cfg.Script = defaultBotRuleScript
	}
	vm := goja.New()
	if _, err := vm.RunString(cfg.Script); err != nil {
		return nil, fmt.Errorf("content: compile bot rule script: %w", err)
	}
	fn, ok := goja.AssertFunction(vm.Get("evaluate"))
	if !ok {
		return nil, fmt.Errorf("content: bot rule script does not define an evaluate(input) function")
	}
	return &BotRuleEngine{vm: vm, cfg: cfg, evalJS: fn}, nil
}

// Evaluate runs the compiled rule script against one moderation
// target. classifierJSON is the upstream classifier/LLM's raw JSON
// reply (for content: `{"nsfw_detected":..,"face_detected":..,
// "nsfw_score":..}`; for profile text/name: `{"prompt_flagged":..}`);
// gjson pulls the handful of fields the script needs out of it without
// a generated struct, since the shape is whatever the classifier
// happens to return.
func (e *BotRuleEngine) Evaluate(target moderation.TargetKind, classifierJSON string) (BotVerdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parsed := gjson.Parse(classifierJSON)
	input := e.vm.NewObject()
	_ = input.Set("target", string(target))
	_ = input.Set("nsfw_score", parsed.Get("nsfw_score").Float())
	_ = input.Set("nsfw_threshold", e.cfg.NSFWThreshold)
	_ = input.Set("face_detected", parsed.Get("face_detected").Bool())
	_ = input.Set("prompt_flagged", parsed.Get("prompt_flagged").Bool())
	_ = input.Set("prompt", e.cfg.Prompt)

	result, err := e.evalJS(goja.Undefined(), input)
	if err != nil {
		return BotVerdict{}, fmt.Errorf("content: bot rule script failed: %w", err)
	}

	var out struct {
		Decision string `json:"decision"`
		Category string `json:"category"`
		Reason   string `json:"reason"`
	}
	raw, err := json.Marshal(result.Export())
	if err != nil {
		return BotVerdict{}, fmt.Errorf("content: marshal bot rule result: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return BotVerdict{}, fmt.Errorf("content: unmarshal bot rule result: %w", err)
	}

	switch out.Decision {
	case "accept":
		return BotVerdict{Decision: moderation.DecisionAccept}, nil
	case "reject":
		return BotVerdict{Decision: moderation.DecisionReject, Category: out.Category, Reason: out.Reason}, nil
	case "escalate":
		return BotVerdict{Escalate: true}, nil
	default:
		return BotVerdict{}, fmt.Errorf("content: bot rule script returned unknown decision %q", out.Decision)
	}
}

// classifierJSONForContent synthesizes the classifier reply a content
// entry's bot pass evaluates against, from the image-process worker's
// already-recorded face/nsfw flags (spec.md §4.5's worker reply). There
// is no persisted numeric nsfw score in this pipeline, so a detected
// flag maps to a score comfortably over the default threshold and a
// clear flag maps to zero; an operator wiring a real NSFW classifier
// service would populate nsfw_score directly instead.
func classifierJSONForContent(nsfwDetected, faceDetected bool) string {
	score := 0.0
	if nsfwDetected {
		score = 0.99
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"nsfw_detected": nsfwDetected,
		"face_detected": faceDetected,
		"nsfw_score":    score,
	})
	return string(raw)
}
