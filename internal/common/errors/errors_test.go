package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NotFound("task", "task-1")
	assert.Equal(t, "NotFound: task with id 'task-1' not found", err.Error())

	wrapped := Transport("read failed", fmt.Errorf("connection reset"))
	assert.Contains(t, wrapped.Error(), "connection reset")
}

func TestValidationCarriesFields(t *testing.T) {
	err := Validation("title must not be empty", "status is invalid")
	assert.Equal(t, ErrCodeValidation, err.Code)
	assert.Len(t, err.Fields, 2)
	assert.Contains(t, err.Message, "title must not be empty")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeCycleWouldForm, CodeOf(CycleWouldForm([]string{"a", "b", "a"})))
	assert.Equal(t, ErrCodeUnknown, CodeOf(fmt.Errorf("plain error")))

	// Codes survive wrapping.
	inner := LockHeld("/data/default")
	outer := Wrap(inner, "startup failed")
	assert.Equal(t, ErrCodeLockHeld, CodeOf(outer))
	assert.True(t, IsLockHeld(outer))
}

func TestWrapPlainError(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), "operation failed")
	assert.Equal(t, ErrCodeUnknown, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(LockHeld("/data")))
	assert.True(t, IsFatal(DatabaseNotOpen()))
	assert.False(t, IsFatal(NotFound("task", "x")))
	assert.False(t, IsFatal(SessionTimeout("developer")))
	assert.False(t, IsFatal(NoTransition("tasks-prepared", "")))
}

func TestGetHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, GetHTTPStatus(NotFound("task", "x")))
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatus(Validation("bad")))
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(CycleWouldForm(nil)))
	assert.Equal(t, http.StatusGatewayTimeout, GetHTTPStatus(SessionTimeout("p")))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(fmt.Errorf("plain")))
}

func TestNoTransitionMessages(t *testing.T) {
	assert.Contains(t, NoTransition("stuck", "").Message, "no transition to take")
	assert.Contains(t, NoTransition("stuck", "jump").Message, "'jump'")
}
