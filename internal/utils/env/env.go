package env

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"github.com/slok/orca/internal/model"
)

// DefaultDotEnvFile is loaded when present and no env file is set.
const DefaultDotEnvFile = ".env"

var valueKeyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ParseValues parses `key=value` specs. A bare `key` takes the value from the environment
// variable with the same name, handy for secrets.
func ParseValues(specs []string) (map[string]string, error) {
	values := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec == "" {
			return nil, fmt.Errorf("value spec cannot be empty")
		}

		if key, value, ok := strings.Cut(spec, "="); ok {
			if !isValidKey(key) {
				return nil, fmt.Errorf("invalid value key %q", key)
			}

			values[key] = value
			continue
		}

		if !isValidKey(spec) {
			return nil, fmt.Errorf("invalid value key %q", spec)
		}

		value, ok := os.LookupEnv(spec)
		if !ok {
			return nil, fmt.Errorf("environment variable %q is not set", spec)
		}

		values[spec] = value
	}

	return values, nil
}

// ParseAnswers parses `regex=value` answer specs, the first `=` splits them.
func ParseAnswers(specs []string) ([]model.AutoAnswer, error) {
	answers := make([]model.AutoAnswer, 0, len(specs))
	for _, spec := range specs {
		pattern, value, ok := strings.Cut(spec, "=")
		if !ok || pattern == "" {
			return nil, fmt.Errorf("invalid answer %q, expected regex=value", spec)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid answer regex %q: %w", pattern, err)
		}
		answers = append(answers, model.AutoAnswer{Pattern: pattern, Value: value})
	}

	return answers, nil
}

// MergeMaps returns a new map with base values replaced by the override ones.
func MergeMaps(base map[string]string, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}

	return merged
}

func isValidKey(k string) bool {
	return valueKeyRegexp.MatchString(k)
}

// EnvFileFromArgs returns the `--env-file` flag value of the command line. The env file
// must be loaded before parsing the flags so its variables can set them.
func EnvFileFromArgs(args []string) (string, bool) {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			return v, true
		}
		if a == "--env-file" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// LoadDotEnv loads the env file variables without overriding the ones already set. A
// missing file is only an error when it was set explicitly.
func LoadDotEnv(path string, explicit bool) error {
	if !explicit {
		path = DefaultDotEnvFile
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load env file %q: %w", path, err)
	}
	return nil
}
