package llm

import (
	"context"
	"fmt"
	"time"
)

// Response is a completed provider call whose answer passed validation.
type Response struct {
	Profile    Profile
	Parsed     Parsed
	Text       string
	Usage      Usage
	LiveSearch bool
	Elapsed    time.Duration
}

// Validator narrows a normalized answer to what a stage needs.
type Validator func(Parsed) Parsed

// Analyze calls the provider and normalizes its answer. An answer that cannot
// be normalized is reported as ErrInvalidAnalysis, the same as no answer.
func Analyze(ctx context.Context, p Provider, req Request, validate Validator) (*Response, error) {
	start := time.Now()
	completion, err := p.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	if completion == nil || completion.Text == "" {
		return nil, ErrEmptyResponse
	}

	parsed := Normalize(completion.Text)
	if validate != nil {
		parsed = validate(parsed)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnalysis, parsed.Reason)
	}

	return &Response{
		Profile:    p.Profile(),
		Parsed:     parsed,
		Text:       completion.Text,
		Usage:      completion.Usage,
		LiveSearch: completion.LiveSearch,
		Elapsed:    elapsed,
	}, nil
}
