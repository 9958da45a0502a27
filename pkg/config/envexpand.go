package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax so literal $ characters in values (regex patterns,
// passwords, shell snippets) pass through untouched.
//
// Examples:
//   - {{.AUTH_PROXY_HEADER}} → value of AUTH_PROXY_HEADER
//   - {{.HOST}}:{{.PORT}} → hostname:port with both variables expanded
//
// Missing variables expand to the empty string. Malformed templates return the
// original content so the YAML parser can produce a clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
