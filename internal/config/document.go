// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and resolves the engine's structured configuration
// document and hosts the atomic snapshot that every subsystem reads
// from. Snapshot.Reload produces the next snapshot; in-flight calls
// keep the snapshot they were created under.
package config

import "time"

// Document is the top-level structured configuration. An unrecognized
// top-level key group is surfaced as a Warning rather than failing the
// load; unknown keys nested inside a recognized group are ignored by the
// decoder without a warning.
type Document struct {
	Asterisk       AsteriskConfig                 `mapstructure:"asterisk"`
	AudioSocket    AudioSocketConfig              `mapstructure:"audiosocket"`
	ExternalMedia  ExternalMediaConfig            `mapstructure:"external_media"`
	AudioTransport string                         `mapstructure:"audio_transport"` // "audiosocket" | "externalmedia"
	DownstreamMode string                         `mapstructure:"downstream_mode"` // "streaming" | "file_playback"
	ActivePipeline string                         `mapstructure:"active_pipeline"`
	DefaultProvider string                        `mapstructure:"default_provider"`
	Providers      map[string]ProviderConfig      `mapstructure:"providers"`
	Pipelines      map[string]PipelineConfig      `mapstructure:"pipelines"`
	Contexts       map[string]ContextConfig       `mapstructure:"contexts"`
	Profiles       map[string]ProfileConfig       `mapstructure:"profiles"`
	VAD            VADConfig                      `mapstructure:"vad"`
	BargeIn        BargeInConfig                   `mapstructure:"barge_in"`
	Streaming      StreamingConfig                 `mapstructure:"streaming"`
	Tools          ToolsConfig                     `mapstructure:"tools"`
	LLM            LLMConfig                       `mapstructure:"llm"`
	Admin          AdminConfig                     `mapstructure:"admin"`

	// Warnings accumulates notices found during Load (unrecognized
	// top-level key groups, ${VAR} secrets not set in the environment); it
	// is not itself part of the document schema.
	Warnings []string `mapstructure:"-"`
}

type AsteriskConfig struct {
	ARIURL      string `mapstructure:"ari_url"`
	ARIUser     string `mapstructure:"ari_user"`
	ARIPassword string `mapstructure:"ari_password"`
	App         string `mapstructure:"app"`
}

type AudioSocketConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// AdvertiseAddr is the host:port the PBX dials to reach the listener;
	// falls back to ListenAddr when empty.
	AdvertiseAddr string `mapstructure:"advertise_addr"`
}

type AdminConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type ExternalMediaConfig struct {
	ListenHost   string `mapstructure:"listen_host"`
	PortRangeMin int    `mapstructure:"port_range_min"`
	PortRangeMax int    `mapstructure:"port_range_max"`
	RedisAddr    string `mapstructure:"redis_addr"`
}

type ProviderConfig struct {
	Kind           string `mapstructure:"kind"` // "monolithic" | "modular" | "stt" | "llm" | "tts"
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	UseProviderVAD bool   `mapstructure:"use_provider_vad"`
}

type PipelineConfig struct {
	STT string `mapstructure:"stt"`
	LLM string `mapstructure:"llm"`
	TTS string `mapstructure:"tts"`
}

type ContextConfig struct {
	Greeting     string   `mapstructure:"greeting"`
	Prompt       string   `mapstructure:"prompt"`
	ToolAllow    []string `mapstructure:"tool_allowlist"`
	AudioProfile string   `mapstructure:"audio_profile"`
	Provider     string   `mapstructure:"provider"`
}

type ProfileConfig struct {
	InternalSampleRate     int    `mapstructure:"internal_sample_rate"`
	CallerEncoding         string `mapstructure:"caller_encoding"`
	CallerRate             int    `mapstructure:"caller_rate"`
	CallerToProviderEncoding string `mapstructure:"caller_to_provider_encoding"`
	CallerToProviderRate   int    `mapstructure:"caller_to_provider_rate"`
	ProviderOutputEncoding string `mapstructure:"provider_output_encoding"`
	ProviderOutputRate     int    `mapstructure:"provider_output_rate"`
	WireOutEncoding        string `mapstructure:"wire_out_encoding"`
	WireOutRate            int    `mapstructure:"wire_out_rate"`
	MinStartMs             int    `mapstructure:"min_start_ms"`
	GreetingMinStartMs     int    `mapstructure:"greeting_min_start_ms"`
	LowWatermarkMs         int    `mapstructure:"low_watermark_ms"`
}

type VADConfig struct {
	EnergyThreshold          float64 `mapstructure:"energy_threshold"`
	AdaptiveThresholdEnabled bool    `mapstructure:"adaptive_threshold_enabled"`
	NoiseAdaptationRate      float64 `mapstructure:"noise_adaptation_rate"`
	Aggressiveness           int     `mapstructure:"aggressiveness"`
	WebrtcStartFrames        int     `mapstructure:"webrtc_start_frames"`
	WebrtcEndSilenceFrames   int     `mapstructure:"webrtc_end_silence_frames"`
	MinMs                    int     `mapstructure:"min_ms"`
	UseProviderVAD           bool    `mapstructure:"use_provider_vad"`
	FallbackEnabled          bool    `mapstructure:"fallback_enabled"`
	FallbackIntervalMs       int     `mapstructure:"fallback_interval_ms"`
}

type BargeInConfig struct {
	InitialProtectionMs           int `mapstructure:"initial_protection_ms"`
	GreetingProtectionMs          int `mapstructure:"greeting_protection_ms"`
	PostTTSEndProtectionMs        int `mapstructure:"post_tts_end_protection_ms"`
	CooldownMs                    int `mapstructure:"cooldown_ms"`
	ProviderOutputSuppressMs      int `mapstructure:"provider_output_suppress_ms"`
	ProviderOutputSuppressExtendMs int `mapstructure:"provider_output_suppress_extend_ms"`
	ChunkExtendMs                  int `mapstructure:"chunk_extend_ms"`
}

type StreamingConfig struct {
	EmptyBackoffTicksMax int     `mapstructure:"empty_backoff_ticks_max"`
	NormalizeLoudness    bool    `mapstructure:"normalize_loudness"`
	TargetRMS            float64 `mapstructure:"target_rms"`
	MaxGainDB            float64 `mapstructure:"max_gain_db"`
	MediaDir             string  `mapstructure:"media_dir"`

	// FallbackMediaURI is the pre-recorded phrase played to the caller on a
	// mid-call terminal error, so nobody is left in silence before hangup.
	FallbackMediaURI string `mapstructure:"fallback_media_uri"`
}

type ToolsConfig struct {
	Transfer         TransferToolConfig         `mapstructure:"transfer"`
	AttendedTransfer AttendedTransferToolConfig `mapstructure:"attended_transfer"`
	Hangup           HangupToolConfig           `mapstructure:"hangup_call"`
	Voicemail        VoicemailToolConfig        `mapstructure:"leave_voicemail"`
	EmailSummary     EmailSummaryToolConfig     `mapstructure:"send_email_summary"`
	RequestTranscript RequestTranscriptToolConfig `mapstructure:"request_transcript"`
}

type Destination struct {
	Kind              string `mapstructure:"kind"` // extension | queue | ring_group
	Target            string `mapstructure:"target"`
	AttendedAllowed   bool   `mapstructure:"attended_allowed"`
	Description       string `mapstructure:"description"`
}

type TransferToolConfig struct {
	Enabled          bool                   `mapstructure:"enabled"`
	Destinations     map[string]Destination `mapstructure:"destinations"`
	ExtensionContext string                 `mapstructure:"extension_context"` // dialplan context for kind=extension redirects
	GroupContext     string                 `mapstructure:"group_context"`     // dialplan context for kind=queue|ring_group
}

type AttendedTransferToolConfig struct {
	Enabled              bool                   `mapstructure:"enabled"`
	Destinations         map[string]Destination `mapstructure:"destinations"`
	DialTimeoutSeconds   int                    `mapstructure:"dial_timeout_seconds"`
	AcceptTimeoutSeconds int                    `mapstructure:"accept_timeout_seconds"`
	TTSTimeoutSeconds    int                    `mapstructure:"tts_timeout_seconds"`
	EndpointPrefix       string                 `mapstructure:"endpoint_prefix"` // e.g. "PJSIP"; originate endpoint is "<prefix>/<target>"
	DeclinedPrompt       string                 `mapstructure:"declined_prompt"`
}

type HangupToolConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	FarewellHangupDelaySec int `mapstructure:"farewell_hangup_delay_sec"`
}

type VoicemailToolConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Extension string `mapstructure:"extension"`
}

type EmailSummaryToolConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RecipientTo string `mapstructure:"recipient_to"`
	ServiceURL  string `mapstructure:"service_url"`
}

type RequestTranscriptToolConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	ValidateMX       bool `mapstructure:"validate_mx"`
	ConfirmRequired  bool `mapstructure:"confirm_required"`
}

type LLMConfig struct {
	SystemPromptPrefix string `mapstructure:"system_prompt_prefix"`
	HistoryTurns       int    `mapstructure:"history_turns"`
	ToolTimeoutMs      int    `mapstructure:"tool_timeout_ms"`
}

// Timeouts gathers the independently-configurable engine deadlines.
type Timeouts struct {
	ProviderGrace      time.Duration
	ConnectionTimeout  time.Duration
	FallbackTimeout    time.Duration
	TeardownDeadline   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		ProviderGrace:     3 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		FallbackTimeout:   2 * time.Second,
		TeardownDeadline:  5 * time.Second,
	}
}
