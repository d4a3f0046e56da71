package learning

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-intel/internal/resilience"
	"github.com/sells-group/contact-intel/pkg/anthropic"
)

const interpreterSystemPrompt = `You analyze voice feedback a sales researcher
recorded about a professional contact profile. Extract the cues the feedback
expresses as a JSON array. Each cue has:
  "sentiment": "positive" or "negative"
  "aspect": one of "experience", "industry", "role", "quality", "red_flags", "general"
  "strength": integer 1-5, how emphatically the feedback supports the cue
Respond with the JSON array only, no prose.`

// Interpreter refines cue extraction with a Claude model. It is optional:
// the manager falls back to the rule table whenever interpretation fails.
// A circuit breaker guards the API so a model outage degrades to the rule
// table immediately instead of burning a request per feedback item.
type Interpreter struct {
	client  anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewInterpreter wraps an Anthropic client for feedback interpretation. A
// zero circuit config gets the resilience defaults.
func NewInterpreter(client anthropic.Client, model string, circuit resilience.CircuitBreakerConfig) *Interpreter {
	return &Interpreter{
		client:  client,
		model:   model,
		breaker: resilience.NewCircuitBreaker(circuit),
	}
}

// Interpret asks the model for cues in the transcript.
func (i *Interpreter) Interpret(ctx context.Context, transcript string) ([]Cue, error) {
	resp, err := resilience.ExecuteVal(ctx, i.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return i.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     i.model,
			MaxTokens: 1024,
			System:    anthropic.BuildCachedSystemBlocks(interpreterSystemPrompt),
			Messages: []anthropic.Message{
				{Role: "user", Content: transcript},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "learning: interpret feedback")
	}
	resp.Usage.LogCost(i.model, "feedback_interpretation")

	cues, err := parseCues(resp.Text())
	if err != nil {
		return nil, err
	}
	return cues, nil
}

// parseCues decodes the model output, tolerating a fenced code block.
func parseCues(text string) ([]Cue, error) {
	text = strings.TrimSpace(text)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var cues []Cue
	if err := json.Unmarshal([]byte(text), &cues); err != nil {
		return nil, eris.Wrap(err, "learning: parse interpreter output")
	}

	valid := cues[:0]
	for _, c := range cues {
		if c.Sentiment != sentimentPositive && c.Sentiment != sentimentNegative {
			continue
		}
		if c.Strength < 1 {
			c.Strength = 1
		}
		valid = append(valid, c)
	}
	return valid, nil
}
