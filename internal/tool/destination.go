// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"fmt"

	"github.com/rapidaai/callengine/internal/config"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

// lookupDestination resolves name against the destination map, returning
// a typed ToolError if it is absent. config.Validate already rejects
// unknown destinations at load time, so
// reaching this path at runtime means the LLM passed a name never
// declared in config.
func lookupDestination(destinations map[string]config.Destination, name string) (config.Destination, error) {
	d, ok := destinations[name]
	if !ok {
		return config.Destination{}, engineerrors.Tool(engineerrors.ToolDestinationNotFound, fmt.Sprintf("destination %q not found", name), nil)
	}
	return d, nil
}
