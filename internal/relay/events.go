package relay

import (
	"encoding/json"
	"time"

	"chatrelay/internal/domain"
)

// Outbound events share a "type" discriminator, mirroring the wire protocol
// the clients already speak.

type NewMessage struct {
	Type        string              `json:"type"`
	RoomID      int64               `json:"roomId"`
	MessageID   int64               `json:"messageId"`
	SenderID    int64               `json:"senderId"`
	Text        string              `json:"text"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

func NewMessageEvent(m *domain.Message, text string) NewMessage {
	return NewMessage{
		Type:        "newMessage",
		RoomID:      m.RoomID,
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		Text:        text,
		Attachments: m.Attachments,
		CreatedAt:   m.CreatedAt,
	}
}

type UserTyping struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func UserTypingEvent(roomID, userID int64, isTyping bool) UserTyping {
	return UserTyping{Type: "userTyping", RoomID: roomID, UserID: userID, IsTyping: isTyping}
}

type IncomingCall struct {
	Type     string `json:"type"`
	CallID   string `json:"callId"`
	CallerID int64  `json:"callerId"`
}

func IncomingCallEvent(callID string, callerID int64) IncomingCall {
	return IncomingCall{Type: "incomingCall", CallID: callID, CallerID: callerID}
}

// CallStarted acknowledges startCall to the caller and carries the session ID
// needed for subsequent signaling.
type CallStarted struct {
	Type       string `json:"type"`
	CallID     string `json:"callId"`
	ReceiverID int64  `json:"receiverId"`
}

func CallStartedEvent(callID string, receiverID int64) CallStarted {
	return CallStarted{Type: "callStarted", CallID: callID, ReceiverID: receiverID}
}

type CallAccepted struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
}

func CallAcceptedEvent(callID string) CallAccepted {
	return CallAccepted{Type: "callAccepted", CallID: callID}
}

// CallCancelled dismisses an incoming-call prompt on devices that did not
// accept the call.
type CallCancelled struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
}

func CallCancelledEvent(callID string) CallCancelled {
	return CallCancelled{Type: "callCancelled", CallID: callID}
}

type CallSignal struct {
	Type   string          `json:"type"`
	CallID string          `json:"callId"`
	Signal string          `json:"signal"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func CallSignalEvent(callID, signal string, data json.RawMessage) CallSignal {
	return CallSignal{Type: "callSignal", CallID: callID, Signal: signal, Data: data}
}

type CallEnded struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

func CallEndedEvent(callID, reason string) CallEnded {
	return CallEnded{Type: "callEnded", CallID: callID, Reason: reason}
}

type FriendStatusChange struct {
	Type     string `json:"type"`
	UserID   int64  `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

func FriendStatusEvent(userID int64, isOnline bool) FriendStatusChange {
	return FriendStatusChange{Type: "friendStatusChange", UserID: userID, IsOnline: isOnline}
}

type NewNotification struct {
	Type             string    `json:"type"`
	NotificationID   int64     `json:"notificationId"`
	NotificationType string    `json:"notificationType"`
	Content          string    `json:"content"`
	RelatedUserID    *int64    `json:"relatedUserId,omitempty"`
	RelatedRoomID    *int64    `json:"relatedRoomId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func NewNotificationEvent(n *domain.Notification) NewNotification {
	return NewNotification{
		Type:             "newNotification",
		NotificationID:   n.ID,
		NotificationType: n.Type,
		Content:          n.Content,
		RelatedUserID:    n.RelatedUserID,
		RelatedRoomID:    n.RelatedRoomID,
		CreatedAt:        n.CreatedAt,
	}
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Error(msg string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: msg}
}
