// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"fmt"
	"net/http"

	"github.com/rapidaai/callengine/internal/audioprofile"
	"github.com/rapidaai/callengine/internal/config"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/provider"
	"github.com/rapidaai/callengine/internal/provider/llmclient"
	"github.com/rapidaai/callengine/internal/provider/wsclient"
	"github.com/rapidaai/callengine/pkg/commons"
)

// Resolved bundles everything the coordinator needs once the active
// context, provider, and audio profile have been picked for a call.
type Resolved struct {
	ContextName  string
	Context      config.ContextConfig
	ProviderName string
	Provider     config.ProviderConfig
	Profile      audioprofile.Profile
}

// resolveContext implements the context leg of the resolution order:
// per-call variable wins, falling back to "default" when the variable is
// absent. A context name that is not configured is a ConfigError.
func resolveContext(doc *config.Document, vars InitialVars) (string, config.ContextConfig, error) {
	name := vars.Context
	if name == "" {
		name = "default"
	}
	ctx, ok := doc.Contexts[name]
	if !ok {
		return "", config.ContextConfig{}, engineerrors.Config(fmt.Sprintf("context %q is not configured", name), nil)
	}
	return name, ctx, nil
}

// resolveProvider resolves per-call variable -> context's declared
// provider -> global default_provider. The resolved provider must be
// enabled or the call fails before any audio is committed.
func resolveProvider(doc *config.Document, vars InitialVars, ctx config.ContextConfig) (string, config.ProviderConfig, error) {
	name := vars.Provider
	if name == "" {
		name = ctx.Provider
	}
	if name == "" {
		name = doc.DefaultProvider
	}
	p, ok := doc.Providers[name]
	if !ok || !p.Enabled {
		return "", config.ProviderConfig{}, engineerrors.Config(fmt.Sprintf("resolved provider %q is missing or disabled", name), nil)
	}
	return name, p, nil
}

// resolveProfile implements the same per-call-variable -> context ->
// default resolution order, applied to audio profiles.
func resolveProfile(doc *config.Document, vars InitialVars, ctx config.ContextConfig, registry *audioprofile.Registry) (audioprofile.Profile, error) {
	name := vars.AudioProfile
	if name == "" {
		name = ctx.AudioProfile
	}
	if name == "" {
		name = "telephony_ulaw_8k"
	}
	for custom, p := range doc.Profiles {
		if custom == name {
			registry.Register(audioprofile.Profile{
				Name:                     name,
				InternalSampleRate:       p.InternalSampleRate,
				CallerEncoding:           audioprofile.Encoding(p.CallerEncoding),
				CallerRate:               p.CallerRate,
				CallerToProviderEncoding: audioprofile.Encoding(p.CallerToProviderEncoding),
				CallerToProviderRate:     p.CallerToProviderRate,
				ProviderOutputEncoding:   audioprofile.Encoding(p.ProviderOutputEncoding),
				ProviderOutputRate:       p.ProviderOutputRate,
				WireOutEncoding:          audioprofile.Encoding(p.WireOutEncoding),
				WireOutRate:              p.WireOutRate,
				MinStartMs:               p.MinStartMs,
				GreetingMinStartMs:       p.GreetingMinStartMs,
				LowWatermarkMs:           p.LowWatermarkMs,
			})
		}
	}
	return registry.Resolve(name)
}

// Resolve performs the full resolution sequence against the snapshot
// current at call start.
func Resolve(doc *config.Document, vars InitialVars, profiles *audioprofile.Registry) (Resolved, error) {
	ctxName, ctx, err := resolveContext(doc, vars)
	if err != nil {
		return Resolved{}, err
	}
	providerName, providerCfg, err := resolveProvider(doc, vars, ctx)
	if err != nil {
		return Resolved{}, err
	}
	profile, err := resolveProfile(doc, vars, ctx, profiles)
	if err != nil {
		return Resolved{}, engineerrors.Config(err.Error(), err)
	}
	return Resolved{
		ContextName:  ctxName,
		Context:      ctx,
		ProviderName: providerName,
		Provider:     providerCfg,
		Profile:      profile,
	}, nil
}

func authHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

// BuildProviderSession constructs the concrete provider.Session for a
// resolved provider/pipeline, in one of its two realizations: a single
// monolithic WebSocket peer, or a modular composition of independently
// resolved STT/LLM/TTS provider entries.
func BuildProviderSession(doc *config.Document, resolved Resolved, systemPrompt string, tools []llmclient.ToolSchema, logger commons.Logger) (provider.Session, error) {
	switch resolved.Provider.Kind {
	case "monolithic":
		return wsclient.NewMonolithicSession(resolved.Provider.URL, authHeader(resolved.Provider.APIKey), logger), nil
	case "modular":
		pipelineName := doc.ActivePipeline
		pipeline, ok := doc.Pipelines[pipelineName]
		if !ok {
			return nil, engineerrors.Config(fmt.Sprintf("active_pipeline %q is not configured", pipelineName), nil)
		}
		sttCfg, ok := doc.Providers[pipeline.STT]
		if !ok || !sttCfg.Enabled {
			return nil, engineerrors.Config(fmt.Sprintf("pipeline stt provider %q is missing or disabled", pipeline.STT), nil)
		}
		ttsCfg, ok := doc.Providers[pipeline.TTS]
		if !ok || !ttsCfg.Enabled {
			return nil, engineerrors.Config(fmt.Sprintf("pipeline tts provider %q is missing or disabled", pipeline.TTS), nil)
		}
		llmCfg, ok := doc.Providers[pipeline.LLM]
		if !ok || !llmCfg.Enabled {
			return nil, engineerrors.Config(fmt.Sprintf("pipeline llm provider %q is missing or disabled", pipeline.LLM), nil)
		}

		stt := wsclient.NewSTTPeer(sttCfg.URL, authHeader(sttCfg.APIKey), logger)
		tts := wsclient.NewTTSPeer(ttsCfg.URL, authHeader(ttsCfg.APIKey), logger)
		llm := llmclient.NewClient(llmCfg.APIKey, llmCfg.URL, llmCfg.Model, logger)

		return wsclient.NewModularSession(wsclient.ModularConfig{
			STTPeer:      stt,
			TTSPeer:      tts,
			LLM:          llm,
			SystemPrompt: systemPrompt,
			Tools:        tools,
			HistoryTurns: doc.LLM.HistoryTurns,
		}, logger), nil
	default:
		return nil, engineerrors.Config(fmt.Sprintf("provider %q has unsupported kind %q", resolved.ProviderName, resolved.Provider.Kind), nil)
	}
}
