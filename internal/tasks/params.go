package tasks

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParamClientID is the params key that ties a task to a client for
// LatestForClient lookups.
const ParamClientID = "client_id"

// Params are the string parameters a task was queued with.
type Params map[string]string

// String returns the trimmed value for key, or "".
func (p Params) String(key string) string {
	return strings.TrimSpace(p[key])
}

// Int parses key as a non-negative integer, returning def when unset.
func (p Params) Int(key string, def int) (int, error) {
	v := p.String(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("param %s: %q is not a non-negative integer", key, v)
	}
	return n, nil
}

// Time parses key as RFC 3339 or YYYY-MM-DD. Unset yields the zero time.
func (p Params) Time(key string) (time.Time, error) {
	v := p.String(key)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("param %s: %q is not a date", key, v)
}

// List splits a comma-separated value, dropping empty entries.
func (p Params) List(key string) []string {
	var out []string
	for _, s := range strings.Split(p[key], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
