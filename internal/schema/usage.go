package schema

// Usage accumulates token/cost accounting for one turn or one run
// (spec.md §3, testable property 2).
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	ResponseCost     float64 `json:"response_cost"`
}

// Add returns the element-wise sum of u and other, used when summing
// planner+grounder usage in a composite turn (spec.md §4.5 step 2).
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		ResponseCost:     u.ResponseCost + other.ResponseCost,
	}
}
