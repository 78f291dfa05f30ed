package content

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/moderation"
)

func TestBotRuleEngineAcceptsClearContent(t *testing.T) {
	eng, err := NewBotRuleEngine(DefaultBotRuleConfig())
	require.NoError(t, err)

	verdict, err := eng.Evaluate(moderation.TargetContent, classifierJSONForContent(false, true))
	require.NoError(t, err)
	require.Equal(t, moderation.DecisionAccept, verdict.Decision)
	require.False(t, verdict.Escalate)
}

func TestBotRuleEngineRejectsAboveNSFWThreshold(t *testing.T) {
	eng, err := NewBotRuleEngine(DefaultBotRuleConfig())
	require.NoError(t, err)

	verdict, err := eng.Evaluate(moderation.TargetContent, classifierJSONForContent(true, true))
	require.NoError(t, err)
	require.Equal(t, moderation.DecisionReject, verdict.Decision)
	require.Equal(t, "nsfw", verdict.Category)
}

func TestBotRuleEngineEscalatesContentWithoutDetectedFace(t *testing.T) {
	eng, err := NewBotRuleEngine(DefaultBotRuleConfig())
	require.NoError(t, err)

	verdict, err := eng.Evaluate(moderation.TargetContent, classifierJSONForContent(false, false))
	require.NoError(t, err)
	require.True(t, verdict.Escalate)
}

func TestBotRuleEngineEscalatesFlaggedProfileText(t *testing.T) {
	eng, err := NewBotRuleEngine(DefaultBotRuleConfig())
	require.NoError(t, err)

	verdict, err := eng.Evaluate(moderation.TargetProfileText, `{"prompt_flagged":true}`)
	require.NoError(t, err)
	require.True(t, verdict.Escalate)
}

func TestBotRuleEngineAcceptsUnflaggedProfileName(t *testing.T) {
	eng, err := NewBotRuleEngine(DefaultBotRuleConfig())
	require.NoError(t, err)

	verdict, err := eng.Evaluate(moderation.TargetProfileName, `{"prompt_flagged":false}`)
	require.NoError(t, err)
	require.Equal(t, moderation.DecisionAccept, verdict.Decision)
}

func TestNewBotRuleEngineRejectsScriptWithoutEvaluateFunction(t *testing.T) {
	_, err := NewBotRuleEngine(BotRuleConfig{Script: `var x = 1;`})
	require.Error(t, err)
}

func TestNewBotRuleEngineRejectsInvalidScript(t *testing.T) {
	_, err := NewBotRuleEngine(BotRuleConfig{Script: `function evaluate(input) {`})
	require.Error(t, err)
}
