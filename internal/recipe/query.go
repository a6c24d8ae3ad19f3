package recipe

import (
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// BuildQuery fills the definition query with the request's qualifier values
// and time window. Missing criteria, timeframe or recipients fail with a
// ValidationError.
func BuildQuery(def Definition, req ExecutionRequest) (string, error) {
	if err := req.requirePresent(); err != nil {
		return "", err
	}
	replacer := strings.NewReplacer(
		PredicateMarker, Predicate(def.Predicate, QualifierValues(def.Qualifier, req.Criteria)),
		StartMarker, TimestampLiteral(req.Start()),
		EndMarker, TimestampLiteral(req.End()),
	)
	return replacer.Replace(def.Query), nil
}

// QualifierValues returns the non-empty values of criteria named name, in order.
func QualifierValues(name string, criteria []Criterion) []string {
	var values []string
	for _, c := range criteria {
		if c.Name == name && c.Value != "" {
			values = append(values, c.Value)
		}
	}
	return values
}

// Predicate replaces the first "?" of format with the escaped value list.
// An empty list renders as NULL.
func Predicate(format string, values []string) string {
	return strings.Replace(format, "?", QuoteList(values), 1)
}

// QuoteList renders values as comma separated SQL string literals.
func QuoteList(values []string) string {
	if len(values) == 0 {
		return "NULL"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral renders v as a single-quoted SQL string literal. Quotes are
// doubled and NUL bytes dropped.
func QuoteLiteral(v string) string {
	v = strings.ReplaceAll(v, "\x00", "")
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// TimestampLiteral renders t as an Athena TIMESTAMP literal in UTC.
func TimestampLiteral(t time.Time) string {
	return "TIMESTAMP '" + t.UTC().Format(timestampLayout) + "'"
}
