package script

import (
	"fmt"
	"regexp"
	"strings"
)

// Vars are the credential and addressing values substituted into a script
// before parsing. Substitution happens exactly once; values that could be
// mistaken for statement or comment syntax are rejected.
type Vars struct {
	Endpoint    string // s3_endpoint, host[:port] without scheme
	Bucket      string // s3_bucket
	AccessKey   string // s3_access_key
	SecretKey   string // s3_secret_key
	ArtifactKey string // artifact_key, the object name for this run
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Substitute replaces {{ name }} placeholders with values from vars.
// Unknown placeholders are an error so a renamed variable cannot slip
// through as literal text. Values containing ';' or '--' are refused:
// they would change statement boundaries during the later lexer pass.
func Substitute(text string, vars Vars) (string, error) {
	values := map[string]string{
		"s3_endpoint":   vars.Endpoint,
		"s3_bucket":     vars.Bucket,
		"s3_access_key": vars.AccessKey,
		"s3_secret_key": vars.SecretKey,
		"artifact_key":  vars.ArtifactKey,
	}

	for name, value := range values {
		if strings.Contains(value, ";") || strings.Contains(value, "--") {
			return "", fmt.Errorf("template variable %s contains statement or comment syntax", name)
		}
	}

	var unknown []string
	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := values[name]
		if !ok {
			unknown = append(unknown, name)
			return match
		}
		return value
	})

	if len(unknown) > 0 {
		return "", fmt.Errorf("unknown template variables: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
