// Package tcp implements the line-delimited JSON command protocol on the
// daemon's command port. One request per line, one response per line, in
// request order; connections are persistent.
package tcp

import (
	"encoding/json"
	"errors"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
)

// Request is one inbound command frame.
type Request struct {
	Command     string          `json:"command"`
	Data        json.RawMessage `json:"data,omitempty"`
	Environment string          `json:"environment,omitempty"`
}

// ErrorBody carries a failed command's message plus its taxonomy name so
// clients can branch without parsing message text.
type ErrorBody struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Response is one outbound frame.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

func okResponse(data interface{}) *Response {
	return &Response{Success: true, Data: data}
}

func errResponse(err error) *Response {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return &Response{Success: false, Error: &ErrorBody{
			Message: appErr.Message,
			Name:    appErr.Code,
		}}
	}
	return &Response{Success: false, Error: &ErrorBody{
		Message: err.Error(),
		Name:    apperrors.ErrCodeUnknown,
	}}
}
