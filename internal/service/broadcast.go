package service

// Event types pushed to live clients.
const (
	EventExpeditionCreated   = "expedition_created"
	EventMemberJoined        = "member_joined"
	EventMemberLeft          = "member_left"
	EventLeaderChanged       = "leader_changed"
	EventHexExplored         = "hex_explored"
	EventPositionCorrected   = "position_corrected"
	EventExpeditionCompleted = "expedition_completed"
	EventExpeditionArchived  = "expedition_archived"
	EventSubmissionCreated   = "submission_created"
	EventTownMapUpdated      = "town_map_updated"
	EventConflictCreated     = "conflict_created"
	EventConflictVoted       = "conflict_voted"
	EventConflictResolved    = "conflict_resolved"
)

// Broadcaster sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastExpeditionEvent(expeditionID int64, eventType string, data any)
	BroadcastTownMapEvent(eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastExpeditionEvent(int64, string, any) {}
func (NoopBroadcaster) BroadcastTownMapEvent(string, any)           {}
