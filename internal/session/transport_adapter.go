// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import "github.com/rapidaai/callengine/internal/transport/rtp"

// rtpPlaybackWriter adapts an *rtp.Session (single-argument PushAudio, no
// padding concept at the RTP layer) to playback.Writer's two-argument
// shape. ExternalMedia has no wire-level distinction between a real frame
// and the scheduler's low-watermark silence padding, so isPadding is
// simply dropped.
type rtpPlaybackWriter struct {
	session *rtp.Session
}

func (w rtpPlaybackWriter) PushAudio(payload []byte, _ bool) {
	w.session.PushAudio(payload)
}
