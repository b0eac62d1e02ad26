package scene

import "github.com/google/uuid"

// InstantMessage dialog values.
const (
	DialogMessageFromAgent  uint8 = 0
	DialogMessageBox        uint8 = 1
	DialogGroupInvitation   uint8 = 3
	DialogInventoryOffered  uint8 = 4
	DialogMessageFromObject uint8 = 19
	DialogBusyAutoResponse  uint8 = 20
	DialogSessionSend       uint8 = 41
)

type InstantMessage struct {
	FromAgentID   uuid.UUID  `json:"from_agent_id"`
	FromAgentName string     `json:"from_agent_name"`
	ToAgentID     uuid.UUID  `json:"to_agent_id"`
	SessionID     uuid.UUID  `json:"im_session_id"`
	Dialog        uint8      `json:"dialog"`
	FromGroup     bool       `json:"from_group"`
	Message       string     `json:"message"`
	Offline       bool       `json:"offline"`
	RegionID      uuid.UUID  `json:"region_id"`
	Position      [3]float64 `json:"position"`
	Timestamp     int64      `json:"timestamp"`
	BinaryBucket  []byte     `json:"binary_bucket,omitempty"`
}

// Reply builds a system message from the original recipient back to the sender.
func (m InstantMessage) Reply(text string) InstantMessage {
	return InstantMessage{
		FromAgentID:   m.ToAgentID,
		FromAgentName: "System",
		ToAgentID:     m.FromAgentID,
		SessionID:     m.SessionID,
		Dialog:        DialogMessageFromAgent,
		Message:       text,
		RegionID:      m.RegionID,
		Timestamp:     m.Timestamp,
	}
}
