package handler

// BroadcastExpeditionEvent implements service.Broadcaster using the WebSocket hub.
func (h *Hub) BroadcastExpeditionEvent(expeditionID int64, eventType string, data any) {
	h.Broadcast(WSEvent{
		Type:    eventType,
		Channel: ExpeditionChannel(expeditionID),
		Data:    data,
	})
}

// BroadcastTownMapEvent implements service.Broadcaster using the WebSocket hub.
func (h *Hub) BroadcastTownMapEvent(eventType string, data any) {
	h.Broadcast(WSEvent{
		Type:    eventType,
		Channel: ChannelTownMap,
		Data:    data,
	})
}
