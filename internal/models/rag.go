package models

import (
	"errors"
	"regexp"
)

// Flag is the status of a generation run.
type Flag int

const (
	FlagSuccess  Flag = 0
	FlagNoAnswer Flag = 1
	FlagError    Flag = 2
)

// StopReason names the terminal state of the orchestration loop.
type StopReason string

const (
	StopNoToolCalls   StopReason = "no_tool_calls"
	StopMaxIterations StopReason = "max_iterations"
	StopError         StopReason = "error"
)

// Client identifies the tenant whose documents are searched.
type Client struct {
	ID         string `json:"id"`
	Collection string `json:"collection,omitempty"`
}

var collectionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidCollection reports whether name can be used as a collection and tool-name suffix.
func ValidCollection(name string) bool {
	return collectionPattern.MatchString(name)
}

// Validate checks the client identity.
func (c Client) Validate() error {
	if c.ID == "" {
		return errors.New("client id is required")
	}
	if c.Collection != "" && !ValidCollection(c.Collection) {
		return errors.New("invalid client collection name")
	}
	return nil
}

// DefaultCollection is used when the client names no collection.
const DefaultCollection = "documents"

// CollectionOrDefault returns the client's collection, falling back to DefaultCollection.
func (c Client) CollectionOrDefault() string {
	if c.Collection == "" {
		return DefaultCollection
	}
	return c.Collection
}

// LLMConfig selects and parameterises the language model for a run.
type LLMConfig struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// RetrievalConfig parameterises the retrieval tools offered to the model.
type RetrievalConfig struct {
	Disabled      bool     `json:"disabled,omitempty"`
	Collections   []string `json:"collections,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	MinScore      float64  `json:"min_score,omitempty"`
	KeywordSearch bool     `json:"keyword_search,omitempty"`
}

// RagConfig is the read-only configuration of one run. Zero values mean "use the server default".
type RagConfig struct {
	LLMConfig             LLMConfig       `json:"llm_config"`
	Retrieval             RetrievalConfig `json:"retrieval_config"`
	MaxIterations         int             `json:"max_iterations,omitempty"`
	ParallelToolCalls     *bool           `json:"parallel_tool_calls,omitempty"`
	FinalTurnWithoutTools *bool           `json:"final_turn_without_tools,omitempty"`
	DeduplicateCitations  *bool           `json:"deduplicate_citations,omitempty"`
}

// RagResponse is the final outcome of a run.
type RagResponse struct {
	Answer     string      `json:"answer"`
	Citations  []*Citation `json:"citations"`
	Flag       Flag        `json:"flag"`
	StopReason StopReason  `json:"stop_reason,omitempty"`
	Iterations int         `json:"iterations"`
	RunID      string      `json:"run_id,omitempty"`
}

// ErrorResponse builds the response returned for escalated failures.
func ErrorResponse(runID string, iterations int) *RagResponse {
	return &RagResponse{Flag: FlagError, StopReason: StopError, Iterations: iterations, RunID: runID}
}
