package models

// NotificationItem is one result row of a monitored query.
type NotificationItem struct {
	Path   string `json:"path"`
	Title  string `json:"title"`
	IsTask bool   `json:"is_task"`
	Status string `json:"status,omitempty"`
}

// Notification is produced by an evaluation pass with a non-empty result.
type Notification struct {
	QueryID   string             `json:"query_id"`
	QueryName string             `json:"query_name"`
	Items     []NotificationItem `json:"items"`
}
