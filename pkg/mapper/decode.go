// Package mapper translates between the Networking API JSON payloads and
// the arguments and views of the neutron engine.
//
// Every operation runs the same pipeline:
//
//	decode body -> validate request -> request to engine arguments -> engine call -> render view
//
// Requests are decoded strictly: keys that the resource does not accept are
// rejected, as are values of the wrong JSON type.
package mapper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
)

// Keys holds the accepted keys of a payload.
type Keys struct {
	Mandatory []string
	Optional  []string
}

// Fields is the set of keys present in a decoded payload.
type Fields map[string]bool

// Has reports whether key was present, even with a null value.
func (f Fields) Has(key string) bool {
	return f[key]
}

// errInvalidData reports keys a payload does not accept.
func errInvalidData(keys []string) error {
	sort.Strings(keys)
	return apierr.BadRequestf("Invalid data found: %s", strings.Join(keys, ", "))
}

// errMissingData reports mandatory keys a payload lacks.
func errMissingData(keys []string) error {
	sort.Strings(keys)
	return apierr.BadRequestf("Missing mandatory data: %s", strings.Join(keys, ", "))
}

// errInvalidInput reports a value that has the wrong type or format.
func errInvalidInput(field string, format string, args ...interface{}) error {
	return apierr.BadRequestf("Invalid input for %s: %s", field, fmt.Sprintf(format, args...))
}

// Decode reads the object stored under key of body into dst, which must be
// a pointer to a request struct. An empty key decodes body itself. The keys
// of the object are checked against keys before decoding.
func Decode(body []byte, key string, keys Keys, dst interface{}) (Fields, error) {
	raw, err := objectOf(body, "request body")
	if err != nil {
		return nil, err
	}
	if key != "" {
		if unknown := lo.Without(lo.Keys(raw), key); len(unknown) > 0 {
			return nil, errInvalidData(unknown)
		}
		inner, ok := raw[key]
		if !ok {
			return nil, errMissingData([]string{key})
		}
		if raw, err = objectOf(inner, key); err != nil {
			return nil, err
		}
	}

	fields := Fields{}
	var unknown []string
	for k := range raw {
		fields[k] = true
		if !lo.Contains(keys.Mandatory, k) && !lo.Contains(keys.Optional, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return nil, errInvalidData(unknown)
	}
	if missing := lo.Filter(keys.Mandatory, func(k string, _ int) bool { return !fields[k] }); len(missing) > 0 {
		return nil, errMissingData(missing)
	}

	inner, _ := json.Marshal(raw)
	if err := json.Unmarshal(inner, dst); err != nil {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errInvalidInput(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		}
		return nil, apierr.Wrap(apierr.BadRequest, err, "Invalid input: %v", err)
	}
	return fields, nil
}

func objectOf(data []byte, what string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, apierr.BadRequestf("Invalid input: %s must be a JSON object", what)
	}
	return raw, nil
}

// isNull reports whether a raw value is absent or null.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
