package policy

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Alignment is the evaluator's verdict on a request.
type Alignment struct {
	Aligned       bool     `json:"aligned"`
	Confidence    float64  `json:"confidence"`
	MatchingGoals []string `json:"matching_goals,omitempty"`
	Violations    []string `json:"violations,omitempty"`
	Reasoning     string   `json:"reasoning"`
}

// goalMatchThreshold is the lower bar for reporting a goal as matching;
// goal matches inform confidence but never block.
const goalMatchThreshold = 0.5

// Evaluator scores requests against a policy by normalized token
// overlap. Rejection requires an explicit exclusion match at or above
// the reject threshold; everything else is allowed.
type Evaluator struct {
	rejectThreshold float64
	logger          *zap.Logger
}

func NewEvaluator(rejectThreshold float64, logger *zap.Logger) *Evaluator {
	return &Evaluator{rejectThreshold: rejectThreshold, logger: logger}
}

// Evaluate returns the alignment verdict for a request. A nil policy
// fails open: aligned with zero confidence.
func (e *Evaluator) Evaluate(request string, p *Policy) (Alignment, error) {
	if p == nil {
		return Alignment{
			Aligned:    true,
			Confidence: 0,
			Reasoning:  "no policy available; failing open",
		}, nil
	}

	reqTokens := tokenSet(request)

	var violations []string
	var maxViolation float64
	for _, entry := range p.ScopeOut {
		if score := overlapScore(reqTokens, entry); score >= e.rejectThreshold {
			violations = append(violations, "scope-out: "+entry)
			if score > maxViolation {
				maxViolation = score
			}
		}
	}
	for _, entry := range p.Constraints {
		if score := overlapScore(reqTokens, entry); score >= e.rejectThreshold {
			violations = append(violations, "constraint: "+entry)
			if score > maxViolation {
				maxViolation = score
			}
		}
	}

	var matchingGoals []string
	var maxGoal float64
	for _, goal := range p.Goals {
		if score := overlapScore(reqTokens, goal); score >= goalMatchThreshold {
			matchingGoals = append(matchingGoals, goal)
			if score > maxGoal {
				maxGoal = score
			}
		}
	}

	if len(violations) > 0 {
		e.logger.Info("request rejected by policy",
			zap.Strings("violations", violations),
			zap.Float64("confidence", maxViolation))
		return Alignment{
			Aligned:       false,
			Confidence:    maxViolation,
			MatchingGoals: matchingGoals,
			Violations:    violations,
			Reasoning:     fmt.Sprintf("request matches %d excluded area(s): %s", len(violations), strings.Join(violations, "; ")),
		}, nil
	}

	reasoning := "no exclusion match; allowed"
	if len(matchingGoals) > 0 {
		reasoning = fmt.Sprintf("supports %d declared goal(s); no exclusion match", len(matchingGoals))
	}
	return Alignment{
		Aligned:       true,
		Confidence:    maxGoal,
		MatchingGoals: matchingGoals,
		Reasoning:     reasoning,
	}, nil
}

// overlapScore is the fraction of an entry's significant tokens found
// in the request.
func overlapScore(reqTokens map[string]bool, entry string) float64 {
	entryTokens := tokenSet(entry)
	if len(entryTokens) == 0 {
		return 0
	}
	matched := 0
	for tok := range entryTokens {
		if reqTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(entryTokens))
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "to": true, "for": true,
	"with": true, "by": true, "is": true, "are": true, "be": true,
	"do": true, "not": true, "no": true, "any": true, "all": true,
	"never": true, "always": true, "must": true, "should": true,
}

// tokenSet lowercases, strips punctuation, drops stopwords, and stems
// tokens to a shared prefix so close inflections ("processor",
// "processing") compare equal.
func tokenSet(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if stopwords[field] {
			continue
		}
		tokens[stem(field)] = true
	}
	return tokens
}

func stem(tok string) string {
	for _, suffix := range []string{"ing", "ions", "ion", "ors", "or", "ers", "er", "ed", "es", "s"} {
		if strings.HasSuffix(tok, suffix) && len(tok)-len(suffix) >= 4 {
			return tok[:len(tok)-len(suffix)]
		}
	}
	return tok
}
