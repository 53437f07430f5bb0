package relay

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	"chatrelay/internal/domain"
	"chatrelay/internal/security"
)

const maxMessageRunes = 5000

// Fanout delivers sent chat messages: membership gate, best-effort moderation,
// persist, then broadcast the durable record to the room's current
// subscribers. Members without a live subscription get a notification job.
type Fanout struct {
	rooms     *Rooms
	members   domain.RoomRepository
	messages  domain.MessageRepository
	moderator domain.Moderator
	encryptor *security.Encryptor
	notify    NotificationEnqueuer

	// roomLocks serializes persist-then-broadcast per room so broadcasts go
	// out in persistence-completion order.
	roomLocks keyedMutex
}

func NewFanout(
	rooms *Rooms,
	members domain.RoomRepository,
	messages domain.MessageRepository,
	moderator domain.Moderator,
	encryptor *security.Encryptor,
	notify NotificationEnqueuer,
) *Fanout {
	return &Fanout{
		rooms:     rooms,
		members:   members,
		messages:  messages,
		moderator: moderator,
		encryptor: encryptor,
		notify:    notify,
	}
}

// Send validates, persists, and broadcasts one message. The returned message
// carries the durable ID and timestamp with plaintext content. Persistence
// failures are surfaced; moderation unavailability is not.
func (f *Fanout) Send(ctx context.Context, roomID, senderID int64, text string, attachments []domain.Attachment) (*domain.Message, error) {
	if text == "" && len(attachments) == 0 {
		return nil, domain.ErrInvalidInput
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return nil, domain.ErrInvalidInput
	}

	member, err := f.members.IsMember(ctx, roomID, senderID)
	if err != nil {
		return nil, fmt.Errorf("check room membership: %w", err)
	}
	if !member {
		return nil, domain.ErrUnauthorized
	}

	if f.moderator != nil && text != "" {
		flagged, err := f.moderator.Check(ctx, text)
		if err != nil {
			// Fail open: moderation unavailability must not lose messages.
			log.Printf("fanout: moderation check failed, passing message through: %v", err)
		} else if flagged {
			return nil, domain.ErrContentRejected
		}
	}

	content := text
	if f.encryptor != nil {
		content, err = f.encryptor.Encrypt(text)
		if err != nil {
			return nil, fmt.Errorf("encrypt content: %w", err)
		}
	}

	msg := &domain.Message{
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
	}

	mu := f.roomLocks.lock(roomID)
	mu.Lock()
	if err := f.messages.Create(ctx, msg); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("save message: %w", err)
	}
	f.rooms.Broadcast(roomID, NewMessageEvent(msg, text))
	mu.Unlock()

	msg.Content = text
	f.notifyAbsentMembers(ctx, msg)
	return msg, nil
}

// notifyAbsentMembers queues a message notification for every persistent
// member with no connection currently subscribed to the room.
func (f *Fanout) notifyAbsentMembers(ctx context.Context, msg *domain.Message) {
	if f.notify == nil {
		return
	}
	memberIDs, err := f.members.MemberIDs(ctx, msg.RoomID)
	if err != nil {
		log.Printf("fanout: list members of room %d: %v", msg.RoomID, err)
		return
	}
	subscribed := f.rooms.SubscriberUserIDs(msg.RoomID)
	for _, memberID := range memberIDs {
		if memberID == msg.SenderID {
			continue
		}
		if _, ok := subscribed[memberID]; ok {
			continue
		}
		senderID := msg.SenderID
		roomID := msg.RoomID
		job := domain.NotificationJob{
			UserID:        memberID,
			Type:          domain.NotificationTypeMessage,
			Content:       preview(msg.Content),
			RelatedUserID: &senderID,
			RelatedRoomID: &roomID,
		}
		if err := f.notify.Enqueue(ctx, job); err != nil {
			log.Printf("fanout: enqueue message notification for user %d: %v", memberID, err)
		}
	}
}

// History returns the latest messages of a room in chronological order, with
// at-rest content decrypted. Only persistent members may read it.
func (f *Fanout) History(ctx context.Context, roomID, userID int64, limit int) ([]*domain.Message, error) {
	member, err := f.members.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("check room membership: %w", err)
	}
	if !member {
		return nil, domain.ErrUnauthorized
	}

	msgs, err := f.messages.ListForRoom(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if f.encryptor != nil {
		for _, m := range msgs {
			plain, err := f.encryptor.Decrypt(m.Content)
			if err != nil {
				log.Printf("fanout: decrypt message %d: %v", m.ID, err)
				m.Content = ""
				continue
			}
			m.Content = plain
		}
	}
	// Storage returns newest first; clients render oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func preview(text string) string {
	const max = 120
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}
