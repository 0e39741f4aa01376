package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/relay"
)

// handleSDP validates and relays an offer or answer to its target peer.
// Media never touches the server; we only check the payload parses as a
// session description before forwarding.
func (ctl *Controller) handleSDP(ctx context.Context, sid relay.SessionID, c *wsConn, frame *clientFrame) {
	type sdpPayload struct {
		SDP string `json:"sdp"`
	}
	var p sdpPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.SDP == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad sdp payload")
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "bad sdp payload"))
		return
	}
	desc := webrtc.SessionDescription{SDP: p.SDP, Type: webrtc.SDPTypeOffer}
	if frame.Type == domain.TypeAnswer {
		desc.Type = webrtc.SDPTypeAnswer
	}
	if _, err := desc.Unmarshal(); err != nil {
		ctl.sendError(c, domain.Errorf(domain.ErrValidation, "unparseable %s sdp", frame.Type))
		return
	}
	if frame.TargetUserID == "" {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "offer/answer requires target_user_id"))
		return
	}
	ctl.publishFrom(ctx, sid, c, frame)
}

// handleCandidate relays an ICE candidate, validating its shape first.
func (ctl *Controller) handleCandidate(ctx context.Context, sid relay.SessionID, c *wsConn, frame *clientFrame) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(frame.Payload, &cand); err != nil || cand.Candidate == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "bad candidate payload"))
		return
	}
	if frame.TargetUserID == "" {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "ice-candidate requires target_user_id"))
		return
	}
	ctl.publishFrom(ctx, sid, c, frame)
}
