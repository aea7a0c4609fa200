package validators

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
)

// Query reads typed query parameters. The first failure is kept and later
// reads return zero values, so callers check Err once at the end.
type Query struct {
	values url.Values
	err    error
}

func NewQuery(r *http.Request) *Query {
	return &Query{values: r.URL.Query()}
}

func (q *Query) raw(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

func (q *Query) fail(key, message string) {
	if q.err == nil {
		q.err = pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameters").
			WithDetails(map[string]string{key: message})
	}
}

// Int parses key as an integer, falling back to def when absent. rules is a
// validator tag such as "min=1,max=100".
func (q *Query) Int(key string, def int, rules string) int {
	if q.err != nil {
		return 0
	}
	raw := q.raw(key)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		q.fail(key, "must be an integer")
		return 0
	}
	if rules != "" {
		if err := validate.Var(value, rules); err != nil {
			q.fail(key, varMessage(err))
			return 0
		}
	}
	return value
}

// String returns the trimmed value of key, checked against rules when set.
func (q *Query) String(key, rules string) string {
	if q.err != nil {
		return ""
	}
	raw := q.raw(key)
	if raw != "" && rules != "" {
		if err := validate.Var(raw, rules); err != nil {
			q.fail(key, varMessage(err))
			return ""
		}
	}
	return raw
}

// Time parses an optional RFC3339 timestamp and converts it to UTC.
func (q *Query) Time(key string) *time.Time {
	if q.err != nil {
		return nil
	}
	raw := q.raw(key)
	if raw == "" {
		return nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		q.fail(key, "must be an RFC3339 timestamp")
		return nil
	}
	value = value.UTC()
	return &value
}

// Reject records a failure found by the caller, such as a bad range.
func (q *Query) Reject(key, message string) {
	q.fail(key, message)
}

func (q *Query) Err() error {
	return q.err
}
