package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/task"
)

var validate = validator.New()

// createTaskRequest mirrors cronjob.TaskSpec field for field so it converts
// directly once validated.
type createTaskRequest struct {
	Name           string             `json:"name" validate:"required,max=200"`
	Type           task.Type          `json:"type" validate:"required,oneof=script agent reminder command webhook"`
	CronExpression string             `json:"cronExpression" validate:"max=200"`
	Enabled        *bool              `json:"enabled,omitempty"`
	Metadata       task.Metadata      `json:"metadata"`
	RetryConfig    *task.RetryConfig  `json:"retryConfig,omitempty"`
	Dependencies   *task.Dependencies `json:"dependencies,omitempty"`
}

type patchTaskRequest struct {
	Name           *string            `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Type           *task.Type         `json:"type,omitempty" validate:"omitempty,oneof=script agent reminder command webhook"`
	CronExpression *string            `json:"cronExpression,omitempty" validate:"omitempty,max=200"`
	Enabled        *bool              `json:"enabled,omitempty"`
	Metadata       *task.Metadata     `json:"metadata,omitempty"`
	RetryConfig    *task.RetryConfig  `json:"retryConfig,omitempty"`
	Dependencies   *task.Dependencies `json:"dependencies,omitempty"`
}

type validateCronRequest struct {
	Expression string `json:"expression" validate:"required"`
	Timezone   string `json:"timezone,omitempty"`
	Count      int    `json:"count,omitempty" validate:"omitempty,min=1,max=100"`
}

type timezoneRequest struct {
	Timezone string `json:"timezone" validate:"required"`
}

func (r createTaskRequest) spec() cronjob.TaskSpec  { return cronjob.TaskSpec(r) }
func (r patchTaskRequest) patch() cronjob.TaskPatch { return cronjob.TaskPatch(r) }

// decode unmarshals body into v and runs struct validation. Failures wrap
// task.ErrInvalidTask so they map to 400.
func decode(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: request body is required", task.ErrInvalidTask)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", task.ErrInvalidTask, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalidTask, err)
	}
	return nil
}

func parseBool(s string) (*bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid boolean %q", task.ErrInvalidTask, s)
	}
	return &b, nil
}

func parseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", task.ErrInvalidTask, s)
	}
	return n, nil
}
