package http

// APIResponse is the envelope of every admin API reply. Errors carry a
// list of AppError or ValidationError in Data.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"marketCode"`
	Message string                 `json:"message,omitempty" example:"MarketCode is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse is the Data of list endpoints.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}
