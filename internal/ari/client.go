// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ari is the only component that speaks to the PBX. Client
// is the synchronous HTTP command side; Subscriber (subscriber.go) is the
// event side.
package ari

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/pkg/commons"
)

// Client is a shared, concurrency-safe ARI HTTP command client. One instance serves
// every call's coordinator.
type Client struct {
	http     *resty.Client
	appName  string
	logger   commons.Logger
}

// NewClient builds a Client against baseURL (e.g. http://localhost:8088/ari)
// with basic auth credentials and the Stasis application name used for
// originations.
func NewClient(baseURL, username, password, appName string, logger commons.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(username, password).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c, appName: appName, logger: logger}
}

func wrapStatus(resp *resty.Response, err error, verb string) error {
	if err != nil {
		return engineerrors.Transport(fmt.Sprintf("ari: %s transport failure", verb), err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("ari: %s: %w", verb, ariError{kind: "NotFound", status: resp.StatusCode(), body: resp.String()})
	case http.StatusConflict:
		return fmt.Errorf("ari: %s: %w", verb, ariError{kind: "StateConflict", status: resp.StatusCode(), body: resp.String()})
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("ari: %s: %w", verb, ariError{kind: "Unauthorized", status: resp.StatusCode(), body: resp.String()})
	default:
		return fmt.Errorf("ari: %s: %w", verb, ariError{kind: "Transport", status: resp.StatusCode(), body: resp.String()})
	}
}

// ariError is the typed verb-failure contract command callers branch on.
type ariError struct {
	kind   string
	status int
	body   string
}

func (e ariError) Error() string {
	return fmt.Sprintf("%s (http %d): %s", e.kind, e.status, e.body)
}

// ErrorKind classifies err as one of "NotFound", "StateConflict",
// "Unauthorized", or "Transport". Returns "" if err did not originate here.
func ErrorKind(err error) string {
	for err != nil {
		if v, ok := err.(ariError); ok {
			return v.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// Ping verifies connectivity and credentials against the PBX, used as a
// startup preflight so an auth misconfiguration fails fast instead of
// looping in the subscriber's reconnect backoff.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/asterisk/info")
	return wrapStatus(resp, err, "ping")
}

func (c *Client) Answer(ctx context.Context, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).Post(fmt.Sprintf("/channels/%s/answer", channelID))
	return wrapStatus(resp, err, "answer")
}

func (c *Client) Hangup(ctx context.Context, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/channels/%s", channelID))
	return wrapStatus(resp, err, "hangup")
}

// OriginateChannel originates a new channel to endpoint (e.g.
// "AudioSocket/127.0.0.1:9000/<id>" or "ExternalMedia/...") into this
// engine's Stasis application, carrying variables as channel vars.
func (c *Client) OriginateChannel(ctx context.Context, endpoint string, variables map[string]string) (channelID string, err error) {
	body := map[string]any{
		"endpoint":  endpoint,
		"app":       c.appName,
		"variables": variables,
	}
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/channels")
	if werr := wrapStatus(resp, err, "originate_channel"); werr != nil {
		return "", werr
	}
	return out.ID, nil
}

// CreateExternalMedia asks the PBX to originate an ExternalMedia channel
// that exchanges RTP with host:port in the given format, addressed to this
// engine's Stasis application.
func (c *Client) CreateExternalMedia(ctx context.Context, host string, port int, format string) (channelID string, err error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("app", c.appName).
		SetQueryParam("external_host", fmt.Sprintf("%s:%d", host, port)).
		SetQueryParam("format", format).
		SetResult(&out).
		Post("/channels/externalMedia")
	if werr := wrapStatus(resp, err, "create_external_media"); werr != nil {
		return "", werr
	}
	return out.ID, nil
}

func (c *Client) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("channel", channelID).
		Post(fmt.Sprintf("/bridges/%s/addChannel", bridgeID))
	return wrapStatus(resp, err, "add_to_bridge")
}

func (c *Client) RemoveFromBridge(ctx context.Context, bridgeID, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("channel", channelID).
		Post(fmt.Sprintf("/bridges/%s/removeChannel", bridgeID))
	return wrapStatus(resp, err, "remove_from_bridge")
}

// CreateBridge creates a mixing bridge, used by attended_transfer to join
// the caller and transfer-destination channels.
func (c *Client) CreateBridge(ctx context.Context, bridgeType string) (bridgeID string, err error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("type", bridgeType).
		SetResult(&out).
		Post("/bridges")
	if werr := wrapStatus(resp, err, "create_bridge"); werr != nil {
		return "", werr
	}
	return out.ID, nil
}

func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/bridges/%s", bridgeID))
	return wrapStatus(resp, err, "destroy_bridge")
}

// PlayMedia starts playback of uri (e.g. "sound:welcome") on channelID and
// returns the playback id the caller correlates against PlaybackFinished.
func (c *Client) PlayMedia(channelID, uri string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetQueryParam("media", uri).
		SetResult(&out).
		Post(fmt.Sprintf("/channels/%s/play", channelID))
	if werr := wrapStatus(resp, err, "play_media"); werr != nil {
		return "", werr
	}
	return out.ID, nil
}

func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/playbacks/%s", playbackID))
	return wrapStatus(resp, err, "stop_playback")
}

func (c *Client) SetVariable(ctx context.Context, channelID, name, value string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("variable", name).
		SetQueryParam("value", value).
		Post(fmt.Sprintf("/channels/%s/variable", channelID))
	return wrapStatus(resp, err, "set_variable")
}

func (c *Client) Redirect(ctx context.Context, channelID, context_, exten string, priority int) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]any{"context": context_, "extension": exten, "priority": priority}).
		Put(fmt.Sprintf("/channels/%s", channelID))
	return wrapStatus(resp, err, "redirect")
}

func (c *Client) ContinueInDialplan(ctx context.Context, channelID, context_, exten string, priority int) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]any{"context": context_, "extension": exten, "priority": priority}).
		Post(fmt.Sprintf("/channels/%s/continue", channelID))
	return wrapStatus(resp, err, "continue_in_dialplan")
}

// GetChannelVar reads a channel variable, used to resolve AI_PROVIDER /
// AI_CONTEXT / AI_AUDIO_PROFILE / AI_GREETING / AI_PERSONA /
// CALLERID(name|num) at StasisStart.
func (c *Client) GetChannelVar(ctx context.Context, channelID, name string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("variable", name).
		SetResult(&out).
		Get(fmt.Sprintf("/channels/%s/variable", channelID))
	if werr := wrapStatus(resp, err, "get_channel_var"); werr != nil {
		return "", werr
	}
	return out.Value, nil
}

func (c *Client) ReadDTMF(ctx context.Context, channelID string) (string, error) {
	return c.GetChannelVar(ctx, channelID, "DTMF_DIGIT")
}

// StartMusicOnHold places channelID on hold, used by attended_transfer
// while the destination is being dialed.
func (c *Client) StartMusicOnHold(ctx context.Context, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).Post(fmt.Sprintf("/channels/%s/moh", channelID))
	return wrapStatus(resp, err, "start_music_on_hold")
}

func (c *Client) StopMusicOnHold(ctx context.Context, channelID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/channels/%s/moh", channelID))
	return wrapStatus(resp, err, "stop_music_on_hold")
}
