package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const equivalencePrompt = `You decide whether two names refer to the same real-world place, organization or concept.
Names may be in different languages or scripts (for example "Cologne" and "Köln").
Answer with JSON only: {"equivalent": true} or {"equivalent": false}.

Name A: %s
Name B: %s`

// Oracle asks a completion model whether two names are the same concept.
type Oracle struct {
	generator Generator
}

func NewOracle(generator Generator) *Oracle {
	return &Oracle{generator: generator}
}

func (o *Oracle) AreEquivalent(ctx context.Context, a, b string) (bool, error) {
	answer, err := o.generator.Generate(ctx, fmt.Sprintf(equivalencePrompt, a, b))
	if err != nil {
		return false, err
	}
	return parseVerdict(answer)
}

// parseVerdict reads the JSON object between the first '{' and the last '}', which tolerates code
// fences and chatter around the answer.
func parseVerdict(answer string) (bool, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return false, fmt.Errorf("no JSON object in oracle answer %q", answer)
	}

	var verdict struct {
		Equivalent *bool `json:"equivalent"`
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &verdict); err != nil {
		return false, fmt.Errorf("failed to parse oracle answer: %w", err)
	}
	if verdict.Equivalent == nil {
		return false, fmt.Errorf("oracle answer has no equivalent field")
	}
	return *verdict.Equivalent, nil
}
