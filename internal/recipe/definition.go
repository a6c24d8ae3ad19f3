package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// Query markers replaced by BuildQuery.
const (
	PredicateMarker = "/* {predicate} */"
	StartMarker     = "/* {timeframe.start} */"
	EndMarker       = "/* {timeframe.end} */"
)

// DefaultPageSize is the largest page Athena returns.
const DefaultPageSize int32 = 1000

// Definition is a named report recipe.
type Definition struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	WorkGroup   string `yaml:"workgroup,omitempty"`
	Query       string `yaml:"query"`
	// Qualifier is the criterion name whose values feed the predicate.
	Qualifier string `yaml:"qualifier"`
	// Predicate is substituted at PredicateMarker; its first "?" receives
	// the escaped qualifier values.
	Predicate string             `yaml:"predicate"`
	PageSize  int32              `yaml:"page_size,omitempty"`
	Subject   string             `yaml:"subject"`
	Templates map[Channel]string `yaml:"templates"`
}

// Validate checks a definition loaded from a catalog source.
func (d Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(d.Query) == "" {
		errs = append(errs, errors.New("query is required"))
	}
	if d.Subject == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if len(d.Templates) == 0 {
		errs = append(errs, errors.New("at least one template is required"))
	}
	for ch := range d.Templates {
		if !ch.Supported() {
			errs = append(errs, fmt.Errorf("template for unsupported channel %q", string(ch)))
		}
	}
	if d.PageSize < 0 || d.PageSize > DefaultPageSize {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and %d", DefaultPageSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("recipe %q: %w", d.ID, err)
	}
	return nil
}

func (d Definition) pageSize() int32 {
	if d.PageSize == 0 {
		return DefaultPageSize
	}
	return d.PageSize
}

// Catalog resolves recipe identifiers to definitions.
type Catalog interface {
	Lookup(id string) (Definition, bool)
}
