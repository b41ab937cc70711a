package realtime

// Server-to-client event names.
const (
	EventConnected        = "connected"
	EventPresenceUpdate   = "presence_update"
	EventUserActivity     = "user_activity"
	EventUserTyping       = "user_typing"
	EventEntityEditStart  = "entity_edit_start"
	EventEntityEditStop   = "entity_edit_stop"
	EventNotification     = "notification"
	EventSyncEvent        = "sync_event"
	EventUserDisconnected = "user_disconnected"
)

const RoomGeneral = "general"

func UserRoom(userID string) string {
	return "user:" + userID
}

func RoleRoom(role string) string {
	return "role:" + role
}

func EntityRoom(entityType, entityID string) string {
	return "entity:" + entityType + ":" + entityID
}
