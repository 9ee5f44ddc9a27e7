// Package selfeval implements the Stage-A self-evaluation protocol: the
// instruction sent to the initial-tier model, the lenient parser for its
// structured reply and the escalation policy applied to the parsed result.
package selfeval

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// ConfidenceThreshold is the minimum self-reported confidence at which
	// a Stage-A answer may be accepted without escalation
	ConfidenceThreshold = 0.75

	// MaxReasons caps the reasons kept from a Stage-A reply
	MaxReasons = 5

	// ParseFailedReason is the single reason recorded on a fail-closed result
	ParseFailedReason = "parse failed"
)

var (
	// ErrNoJSON is returned when the reply holds no parseable JSON object
	ErrNoJSON = errors.New("self-eval reply is not valid JSON")

	// ErrMissingAnswer is returned when the JSON object has no answer key
	ErrMissingAnswer = errors.New("self-eval reply is missing the answer field")

	// ErrBadConfidence is returned when confidence is present but not numeric
	ErrBadConfidence = errors.New("self-eval confidence is not numeric")
)

var answerObjectPattern = regexp.MustCompile(`(?s)\{[^{}]*"answer"[^{}]*\}`)

// SelfEvalResult is the interpreted Stage-A reply. It is never mutated
// after construction.
type SelfEvalResult struct {
	Answer         string   `json:"answer"`
	Confidence     float64  `json:"confidence"`
	ShouldEscalate bool     `json:"should_escalate"`
	Reasons        []string `json:"reasons"`
	ParseError     bool     `json:"parse_error"`
}

// Result is the outcome of Parse: either a successfully parsed evaluation
// (Err == nil) or the fail-closed fallback together with the cause.
type Result struct {
	Eval SelfEvalResult
	Err  error
}

// Ok reports whether the reply was parsed
func (r Result) Ok() bool {
	return r.Err == nil
}

// Parse interprets a Stage-A reply. A JSON object containing an "answer"
// key is located anywhere in the text (prose or code fences around it are
// ignored); failing that, the whole trimmed text is tried. Any failure
// yields the fail-closed evaluation.
func Parse(raw string) Result {
	doc := strings.TrimSpace(raw)
	if m := answerObjectPattern.FindString(raw); m != "" {
		doc = m
	}

	if !gjson.Valid(doc) {
		return failClosed(raw, ErrNoJSON)
	}
	parsed := gjson.Parse(doc)
	if !parsed.IsObject() {
		return failClosed(raw, ErrNoJSON)
	}

	answer := parsed.Get("answer")
	if !answer.Exists() {
		return failClosed(raw, ErrMissingAnswer)
	}

	confidence, err := parseConfidence(parsed.Get("confidence"))
	if err != nil {
		return failClosed(raw, err)
	}

	return Result{
		Eval: SelfEvalResult{
			Answer:         stringify(answer),
			Confidence:     confidence,
			ShouldEscalate: parseEscalate(parsed.Get("should_escalate")),
			Reasons:        parseReasons(parsed.Get("reasons")),
		},
	}
}

// ShouldEscalate applies the escalation policy: escalate when the model asks
// for it or when its confidence is below ConfidenceThreshold.
func ShouldEscalate(r SelfEvalResult) bool {
	return r.ShouldEscalate || r.Confidence < ConfidenceThreshold
}

func failClosed(raw string, cause error) Result {
	return Result{
		Eval: SelfEvalResult{
			Answer:         raw,
			Confidence:     0,
			ShouldEscalate: true,
			Reasons:        []string{ParseFailedReason},
			ParseError:     true,
		},
		Err: cause,
	}
}

func stringify(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}

func parseConfidence(v gjson.Result) (float64, error) {
	var c float64
	switch v.Type {
	case gjson.Null:
		if v.Exists() {
			return 0, ErrBadConfidence
		}
		return 0, nil
	case gjson.Number:
		c = v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadConfidence, v.Str)
		}
		c = f
	case gjson.True:
		c = 1
	case gjson.False:
		c = 0
	default:
		return 0, ErrBadConfidence
	}

	if math.IsNaN(c) {
		return 0, ErrBadConfidence
	}
	return clamp(c), nil
}

func clamp(c float64) float64 {
	return math.Max(0, math.Min(1, c))
}

// parseEscalate treats anything that is not JSON false or zero as true;
// strings always escalate, "false" included
func parseEscalate(v gjson.Result) bool {
	switch v.Type {
	case gjson.False:
		return false
	case gjson.Number:
		return v.Float() != 0
	default:
		return true
	}
}

func parseReasons(v gjson.Result) []string {
	reasons := []string{}
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return reasons
	case v.IsArray():
		v.ForEach(func(_, item gjson.Result) bool {
			reasons = append(reasons, stringify(item))
			return len(reasons) < MaxReasons
		})
	default:
		if s := stringify(v); s != "" {
			reasons = append(reasons, s)
		}
	}
	return reasons
}
