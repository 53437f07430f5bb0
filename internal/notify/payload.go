package notify

import (
	"encoding/json"

	"chatrelay/internal/domain"
)

var notificationTitles = map[string]string{
	domain.NotificationTypeMessage:       "New Message",
	domain.NotificationTypeFriendRequest: "Friend Request",
	domain.NotificationTypeSystem:        "New Notification",
}

func pushPayload(job domain.NotificationJob) []byte {
	title, ok := notificationTitles[job.Type]
	if !ok {
		title = "New Notification"
	}
	payload, _ := json.Marshal(map[string]string{
		"title": title,
		"body":  job.Content,
	})
	return payload
}
