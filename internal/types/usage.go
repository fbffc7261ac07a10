package types

import "time"

// UsageRecord is the outcome of one call made with one credential. Records
// are append-only; failures within the tolerance window drive credential
// rotation.
type UsageRecord struct {
	RequestID        string    `json:"request_id" validate:"required,max=100"`
	APIKey           string    `json:"api_key" validate:"required,max=200"`
	ModelName        string    `json:"model_name" validate:"required,max=100"`
	SourceName       string    `json:"source_name" validate:"required,max=50"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty" validate:"omitempty,gte=0"`
	CompletionTokens *int      `json:"completion_tokens,omitempty" validate:"omitempty,gte=0"`
	CreateTime       time.Time `json:"create_time" validate:"required"`
	FinishTime       time.Time `json:"finish_time" validate:"required,gtefield=CreateTime"`
	ExecutionTime    float64   `json:"execution_time" validate:"gte=0"`
	Status           bool      `json:"status"`
	Remark           string    `json:"remark,omitempty" validate:"max=500"`
}

// Remarks attached to usage records written by the services themselves.
const (
	RemarkHealthCheck = "health-check"
	RemarkDispatch    = "dispatch"
)
