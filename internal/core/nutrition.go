package core

import (
	"errors"
	"fmt"
)

// NutritionData is a fully validated estimate for one portion.
type NutritionData struct {
	Calories int     `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// AnalysisKind classifies why an analysis produced no NutritionData.
type AnalysisKind int

const (
	MissingCredential AnalysisKind = iota + 1
	TransportError
	EmptyResponse
	MalformedResponse
)

func (k AnalysisKind) String() string {
	switch k {
	case MissingCredential:
		return "missing credential"
	case TransportError:
		return "transport error"
	case EmptyResponse:
		return "empty response"
	case MalformedResponse:
		return "malformed response"
	}
	return fmt.Sprintf("analysis kind %d", int(k))
}

var (
	ErrMissingCredential = errors.New("analysis credential not configured")
	ErrTransport         = errors.New("analysis request failed")
	ErrEmptyResponse     = errors.New("analysis returned no text")
	ErrMalformedResponse = errors.New("analysis response is not valid nutrition data")

	ErrInvalidImage  = errors.New("image could not be decoded")
	ErrDraftNotFound = errors.New("draft not found or expired")
)

// AnalysisError carries the failure kind, a human-readable detail and, for
// transport failures, the underlying cause.
type AnalysisError struct {
	Kind   AnalysisKind
	Detail string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so callers can write
// errors.Is(err, ErrMalformedResponse).
func (e *AnalysisError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k AnalysisKind) sentinel() error {
	switch k {
	case MissingCredential:
		return ErrMissingCredential
	case TransportError:
		return ErrTransport
	case EmptyResponse:
		return ErrEmptyResponse
	case MalformedResponse:
		return ErrMalformedResponse
	}
	return nil
}

func malformed(format string, args ...any) error {
	return &AnalysisError{Kind: MalformedResponse, Detail: fmt.Sprintf(format, args...)}
}
