package entity

import "time"

// APILog represents a log entry for an outbound call (event delivery, record update, notification)
type APILog struct {
	ID           int64     `json:"id"`
	Target       string    `json:"target"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	RequestBody  string    `json:"request_body"`
	ResponseBody string    `json:"response_body"`
	StatusCode   int       `json:"status_code"`
	Duration     int64     `json:"duration_ms"`
	RequestID    string    `json:"request_id,omitempty"`
	BaseID       string    `json:"base_id,omitempty"` // Tenant the call was made for
	CreatedAt    time.Time `json:"created_at"`
}
