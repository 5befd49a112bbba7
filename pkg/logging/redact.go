package logging

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// Redacted replaces secret values in logged request bodies.
const Redacted = "<redacted>"

var passwordRE = regexp.MustCompile(`("password"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// RedactPasswords returns body with the value of every "password" key
// replaced, at any depth. Bodies that are not valid JSON are scrubbed
// textually.
func RedactPasswords(body []byte) string {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return passwordRE.ReplaceAllString(string(body), `${1}"`+Redacted+`"`)
	}
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(redact(doc)); err != nil {
		return passwordRE.ReplaceAllString(string(body), `${1}"`+Redacted+`"`)
	}
	return string(bytes.TrimRight(out.Bytes(), "\n"))
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if k == "password" {
				t[k] = Redacted
				continue
			}
			t[k] = redact(val)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = redact(t[i])
		}
		return t
	}
	return v
}
