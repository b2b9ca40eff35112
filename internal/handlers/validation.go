package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/response"
	"github.com/glavox/glavox-server/pkg/timefmt"
	appValidator "github.com/glavox/glavox-server/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	return validate(c, dest)
}

// validate runs struct validation on an already populated request.
func validate[T any](c *gin.Context, dest *T) bool {
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return "invalid request payload"
	}
	return failures.Messages()
}

// timestampField accepts either a JSON string or a JSON number (epoch
// milliseconds) and keeps the raw text for validation.
type timestampField string

func (t *timestampField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = timestampField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	ms, err := n.Int64()
	if err != nil {
		return fmt.Errorf("timestamp must be whole milliseconds: %w", err)
	}
	*t = timestampField(fmt.Sprintf("%d", ms))
	return nil
}

// Time parses the field; validation has already accepted it.
func (t timestampField) Time() time.Time {
	parsed, err := timefmt.ParseTimestamp(string(t))
	if err != nil {
		return time.Time{}
	}
	return parsed
}
