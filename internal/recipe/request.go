// Package recipe runs report recipes: it executes the recipe query on the
// query engine, collects the result rows, renders them per channel and
// enqueues one notification per recipient.
package recipe

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Channel is a notification delivery method.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Channels lists every supported channel in render order.
var Channels = []Channel{ChannelEmail, ChannelSMS}

// Supported reports whether c has a dispatch handler.
func (c Channel) Supported() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// Criterion is one user-supplied filter of an execution request.
type Criterion struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Value   string `json:"value" yaml:"value"`
	Display string `json:"display,omitempty" yaml:"display,omitempty"`
}

// Recipient is a notification target.
type Recipient struct {
	Method Channel `json:"method" yaml:"method" validate:"required,oneof=EMAIL SMS"`
	Value  string  `json:"value" yaml:"value" validate:"required"`
}

// ExecutionRequest describes what to query and whom to notify.
type ExecutionRequest struct {
	Resource    string      `json:"resource,omitempty"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Criteria    []Criterion `json:"criteria" validate:"required,min=1,dive"`
	Timeframe   []time.Time `json:"timeframe" validate:"required,len=2"`
	Recipients  []Recipient `json:"recipients" validate:"required,min=1,dive"`
	Recipe      string      `json:"recipe" validate:"required"`
	Period      string      `json:"period,omitempty"`
	Active      bool        `json:"active"`
}

// Start is the inclusive beginning of the request time window.
func (r ExecutionRequest) Start() time.Time {
	if len(r.Timeframe) == 0 {
		return time.Time{}
	}
	return r.Timeframe[0]
}

// End is the end of the request time window.
func (r ExecutionRequest) End() time.Time {
	if len(r.Timeframe) < 2 {
		return time.Time{}
	}
	return r.Timeframe[1]
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the request shape. It never talks to external services.
func (r ExecutionRequest) Validate() error {
	if err := r.requirePresent(); err != nil {
		return err
	}
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fieldPath(fe.Namespace()), Reason: fe.Tag()}
		}
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	if r.Start().After(r.End()) {
		return &ValidationError{Field: "timeframe", Reason: "start after end"}
	}
	return nil
}

// requirePresent is the cheap guard run right before the query is built.
func (r ExecutionRequest) requirePresent() error {
	switch {
	case len(r.Criteria) == 0:
		return &ValidationError{Field: "criteria", Reason: "required"}
	case len(r.Timeframe) == 0:
		return &ValidationError{Field: "timeframe", Reason: "required"}
	case len(r.Recipients) == 0:
		return &ValidationError{Field: "recipients", Reason: "required"}
	}
	return nil
}

// fieldPath drops the struct name prefix validator puts on namespaces.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
