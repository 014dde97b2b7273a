// internal/domain/models/project.go
package models

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Project is an opaque upstream project document. Only the "id" field is
// interpreted; every other field is stored and returned as received.
type Project map[string]interface{}

// ID returns the upstream project id as a string, or "" when absent.
func (p Project) ID() string {
	switch v := p["id"].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// String returns a string field of the project, or "".
func (p Project) String(field string) string {
	s, _ := p[field].(string)
	return s
}

// Number returns a numeric field of the project and whether it was present.
func (p Project) Number(field string) (float64, bool) {
	switch v := p[field].(type) {
	case float64:
		return v, true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Normalized returns a copy of p in which embedded documents decoded from
// BSON (primitive.D, primitive.M, primitive.A) are plain maps and slices, so
// the project encodes to JSON the way it was received.
func (p Project) Normalized() Project {
	if p == nil {
		return nil
	}
	out := make(Project, len(p))
	for k, v := range p {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = normalizeValue(e)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = normalizeValue(e)
		}
		return m
	case primitive.A:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalizeValue(e)
		}
		return a
	case []interface{}:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalizeValue(e)
		}
		return a
	default:
		return v
	}
}
