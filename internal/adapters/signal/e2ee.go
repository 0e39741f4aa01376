package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/relay"
)

// handleSealed relays an encrypted message to its recipient. The server
// cannot read it; the only checks here are shape and addressing. Replay
// and integrity gates run in the recipient's decrypt call.
func (ctl *Controller) handleSealed(ctx context.Context, sid relay.SessionID, c *wsConn, frame *clientFrame) {
	var sealed domain.SealedMessage
	if err := json.Unmarshal(frame.Payload, &sealed); err != nil {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "bad sealed payload"))
		return
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	if sealed.SenderID != user.ID {
		ctl.sendError(c, domain.NewError(domain.ErrUnauthorized, "sealed sender mismatch"))
		return
	}
	if sealed.RecipientID == "" || len(sealed.Nonce) == 0 || len(sealed.Ciphertext) == 0 || len(sealed.Signature) == 0 {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "incomplete sealed message"))
		return
	}
	frame.TargetUserID = sealed.RecipientID
	ctl.publishFrom(ctx, sid, c, frame)
}
