package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/presence"
)

// Inbound frames are presence.Envelope; outbound frames are domain.Event
// encoded as {"type": ..., "payload": ...}.

func parseFrame(data []byte) (presence.Envelope, error) {
	var env presence.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: malformed frame: %v", domain.ErrInvalidRequest, err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return env, fmt.Errorf("%w: frame type is required", domain.ErrInvalidRequest)
	}
	return env, nil
}

// registerUser extracts the user id of a register frame.
func registerUser(env presence.Envelope) (string, error) {
	if env.Type != domain.EventRegister {
		return "", fmt.Errorf("%w: send %q first", domain.ErrNotRegistered, domain.EventRegister)
	}
	var req presence.RegisterRequest
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return "", fmt.Errorf("%w: userId is required", domain.ErrInvalidRequest)
	}
	return userID, nil
}
