// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

var envSubstitutionPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv expands ${VAR} references against the process environment
// before the document is handed to viper. An unset variable expands to
// the empty string and is recorded as a warning by the caller.
func substituteEnv(raw string) (string, []string) {
	var missing []string
	expanded := envSubstitutionPattern.ReplaceAllStringFunc(raw, func(m string) string {
		name := envSubstitutionPattern.FindStringSubmatch(m)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return v
	})
	return expanded, missing
}

// Load reads the configuration document from path, substitutes ${VAR}
// secrets from the environment, and decodes it with viper. Unknown
// top-level key groups do not fail the load; they are appended to
// Document.Warnings. Unknown keys inside a recognized group are ignored
// without a warning.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerrors.Config("failed to read config document", err)
	}

	expanded, missing := substituteEnv(string(raw))

	v := viper.New()
	v.SetConfigType(configTypeFromPath(path))
	if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
		return nil, engineerrors.Config("failed to parse config document", err)
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, engineerrors.Config("failed to decode config document", err)
	}

	for _, name := range missing {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("secret ${%s} referenced but not set in environment", name))
	}
	doc.Warnings = append(doc.Warnings, unknownKeyWarnings(v)...)

	if err := Validate(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "json"
	case strings.HasSuffix(path, ".toml"):
		return "toml"
	default:
		return "yaml"
	}
}

// knownTopLevelKeys mirrors the Document struct's mapstructure tags; keys
// present in the document but not in this set are surfaced as warnings,
// never errors.
var knownTopLevelKeys = map[string]bool{
	"asterisk": true, "audiosocket": true, "external_media": true,
	"audio_transport": true, "downstream_mode": true, "active_pipeline": true,
	"default_provider": true, "providers": true, "pipelines": true,
	"contexts": true, "profiles": true, "vad": true, "barge_in": true,
	"streaming": true, "tools": true, "llm": true, "admin": true,
}

func unknownKeyWarnings(v *viper.Viper) []string {
	var warnings []string
	for _, key := range v.AllKeys() {
		top := strings.SplitN(key, ".", 2)[0]
		if !knownTopLevelKeys[top] {
			warnings = append(warnings, fmt.Sprintf("unrecognized configuration key group %q", top))
		}
	}
	return warnings
}

// Validate checks cross-field invariants that viper's type decoding alone
// cannot enforce: destination-map completeness and a resolvable default
// provider. Malformed entries are a ConfigError at load time.
func Validate(doc *Document) error {
	if doc.DefaultProvider != "" {
		if p, ok := doc.Providers[doc.DefaultProvider]; !ok || !p.Enabled {
			return engineerrors.Config(fmt.Sprintf("default_provider %q is missing or disabled", doc.DefaultProvider), nil)
		}
	}

	for name, dest := range doc.Tools.Transfer.Destinations {
		if err := validateDestination(name, dest); err != nil {
			return err
		}
	}
	for name, dest := range doc.Tools.AttendedTransfer.Destinations {
		if err := validateDestination(name, dest); err != nil {
			return err
		}
	}
	return nil
}

func validateDestination(name string, dest Destination) error {
	if dest.Target == "" {
		return engineerrors.Config(fmt.Sprintf("destination %q has no target", name), nil)
	}
	switch dest.Kind {
	case "extension", "queue", "ring_group":
	default:
		return engineerrors.Config(fmt.Sprintf("destination %q has unrecognized kind %q", name, dest.Kind), nil)
	}
	return nil
}
