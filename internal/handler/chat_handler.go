package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultConversationsPerPage = 20
	defaultMessagesPerPage      = 50
	maxChatPerPage              = 100
)

type conversation struct {
	User        *SellerSummary `json:"user"`
	LastMessage *model.Chat    `json:"last_message"`
	UnreadCount int64          `json:"unread_count"`
}

type senderUnread struct {
	SenderID    uint  `json:"sender_id"`
	UnreadCount int64 `json:"unread_count"`
}

// counterpartExpr selects the other participant of a message relative to the caller
const counterpartExpr = "CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END"

// GetConversations lists the users the caller has exchanged messages with,
// most recent exchange first
func (h *Handler) GetConversations(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)
	page := response.ParsePage(c, defaultConversationsPerPage, maxChatPerPage)
	db := h.db.WithContext(ctx)

	defer prometheus.TrackDBOperation("query")(time.Now())

	var total int64
	err := db.Raw(
		"SELECT COUNT(DISTINCT "+counterpartExpr+") FROM chats WHERE sender_id = ? OR receiver_id = ?",
		userID, userID, userID,
	).Scan(&total).Error
	if err != nil {
		log.Error("Failed to count conversations", zap.Error(err))
		return response.Internal(c)
	}

	var rows []struct {
		CounterpartID uint
		LastID        uint
	}
	err = db.Raw(
		"SELECT "+counterpartExpr+" AS counterpart_id, MAX(id) AS last_id FROM chats "+
			"WHERE sender_id = ? OR receiver_id = ? "+
			"GROUP BY counterpart_id ORDER BY last_id DESC LIMIT ? OFFSET ?",
		userID, userID, userID, page.PerPage, page.Offset(),
	).Scan(&rows).Error
	if err != nil {
		log.Error("Failed to list conversations", zap.Error(err))
		return response.Internal(c)
	}

	conversations := make([]conversation, 0, len(rows))
	if len(rows) == 0 {
		return response.OK(c, "Conversations retrieved successfully", echo.Map{
			"conversations": conversations,
			"pagination":    page.Meta(total),
		})
	}

	counterpartIDs := make([]uint, 0, len(rows))
	lastIDs := make([]uint, 0, len(rows))
	for _, r := range rows {
		counterpartIDs = append(counterpartIDs, r.CounterpartID)
		lastIDs = append(lastIDs, r.LastID)
	}

	var users []model.User
	if err := db.Where("id IN ?", counterpartIDs).Find(&users).Error; err != nil {
		log.Error("Failed to load conversation users", zap.Error(err))
		return response.Internal(c)
	}
	usersByID := make(map[uint]*model.User, len(users))
	for i := range users {
		usersByID[users[i].ID] = &users[i]
	}

	var messages []model.Chat
	if err := db.Where("id IN ?", lastIDs).Find(&messages).Error; err != nil {
		log.Error("Failed to load last messages", zap.Error(err))
		return response.Internal(c)
	}
	messagesByID := make(map[uint]*model.Chat, len(messages))
	for i := range messages {
		messagesByID[messages[i].ID] = &messages[i]
	}

	var unread []senderUnread
	err = db.Model(&model.Chat{}).
		Select("sender_id, COUNT(*) AS unread_count").
		Where("receiver_id = ? AND is_read = ? AND sender_id IN ?", userID, false, counterpartIDs).
		Group("sender_id").
		Scan(&unread).Error
	if err != nil {
		log.Error("Failed to count unread messages", zap.Error(err))
		return response.Internal(c)
	}
	unreadBySender := make(map[uint]int64, len(unread))
	for _, u := range unread {
		unreadBySender[u.SenderID] = u.UnreadCount
	}

	for _, r := range rows {
		last, ok := messagesByID[r.LastID]
		if !ok {
			continue
		}
		otherID := last.CounterpartOf(userID)
		user, ok := usersByID[otherID]
		if !ok {
			continue
		}
		conversations = append(conversations, conversation{
			User:        h.sellerSummary(ctx, log, user),
			LastMessage: last,
			UnreadCount: unreadBySender[otherID],
		})
	}

	return response.OK(c, "Conversations retrieved successfully", echo.Map{
		"conversations": conversations,
		"pagination":    page.Meta(total),
	})
}

// conversationScope restricts a query to the messages between two users
func conversationScope(a, b uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
	}
}

// GetMessages returns the history with another user in chronological order
// and marks everything they sent to the caller as read, in one transaction
func (h *Handler) GetMessages(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	otherID, ok := parseID(c, "user_id")
	if !ok {
		return response.NotFound(c, "User not found")
	}
	other, err := h.findUser(ctx, otherID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "User not found")
		}
		log.Error("Failed to load user", zap.Uint("target_user_id", otherID), zap.Error(err))
		return response.Internal(c)
	}

	page := response.ParsePage(c, defaultMessagesPerPage, maxChatPerPage)

	var (
		total    int64
		marked   int64
		messages []model.Chat
	)
	defer prometheus.TrackDBOperation("query")(time.Now())
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Chat{}).
			Where("sender_id = ? AND receiver_id = ? AND is_read = ?", otherID, userID, false).
			Update("is_read", true)
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected

		if err := tx.Model(&model.Chat{}).Scopes(conversationScope(userID, otherID)).Count(&total).Error; err != nil {
			return err
		}
		return tx.Scopes(conversationScope(userID, otherID)).
			Order("sent_at ASC, id ASC").
			Offset(page.Offset()).
			Limit(page.PerPage).
			Find(&messages).Error
	})
	if err != nil {
		log.Error("Failed to load conversation", zap.Uint("target_user_id", otherID), zap.Error(err))
		return response.Internal(c)
	}
	prometheus.RecordChatMessages("read", int(marked))

	if messages == nil {
		messages = []model.Chat{}
	}
	return response.OK(c, "Messages retrieved successfully", echo.Map{
		"other_user": h.serializeUser(ctx, log, other, false, nil),
		"messages":   messages,
		"pagination": page.Meta(total),
	})
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

func (r *sendMessageRequest) Normalize() {
	r.Content = strings.TrimSpace(r.Content)
}

// SendMessage delivers a message from the caller to another user
func (h *Handler) SendMessage(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	recipientID, ok := parseID(c, "user_id")
	if !ok {
		return response.NotFound(c, "Recipient not found")
	}
	if recipientID == userID {
		return response.BadRequest(c, "Cannot message yourself")
	}
	if _, err := h.findUser(ctx, recipientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Recipient not found")
		}
		log.Error("Failed to load recipient", zap.Uint("target_user_id", recipientID), zap.Error(err))
		return response.Internal(c)
	}

	var req sendMessageRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	message := model.Chat{
		SenderID:   userID,
		ReceiverID: recipientID,
		Content:    req.Content,
		SentAt:     time.Now().UTC(),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.WithContext(ctx).Omit(clause.Associations).Create(&message).Error; err != nil {
		log.Error("Failed to send message", zap.Uint("target_user_id", recipientID), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordChatMessages("sent", 1)
	log.Info("Message sent", zap.Uint("message_id", message.ID), zap.Uint("target_user_id", recipientID))
	return response.Created(c, "Message sent successfully", message)
}

// GetUnreadCount returns the caller's unread total and a per-sender breakdown
func (h *Handler) GetUnreadCount(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	defer prometheus.TrackDBOperation("query")(time.Now())

	bySender := []senderUnread{}
	err := h.db.WithContext(ctx).Model(&model.Chat{}).
		Select("sender_id, COUNT(*) AS unread_count").
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Group("sender_id").
		Order("sender_id").
		Scan(&bySender).Error
	if err != nil {
		log.Error("Failed to count unread messages", zap.Error(err))
		return response.Internal(c)
	}

	var total int64
	for _, s := range bySender {
		total += s.UnreadCount
	}

	return response.OK(c, "Unread count retrieved successfully", echo.Map{
		"total_unread": total,
		"by_sender":    bySender,
	})
}

// MarkMessagesRead flags every unread message from a user to the caller as read
func (h *Handler) MarkMessagesRead(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	otherID, ok := parseID(c, "user_id")
	if !ok {
		return response.NotFound(c, "User not found")
	}
	if _, err := h.findUser(ctx, otherID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "User not found")
		}
		log.Error("Failed to load user", zap.Uint("target_user_id", otherID), zap.Error(err))
		return response.Internal(c)
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	res := h.db.WithContext(ctx).Model(&model.Chat{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", otherID, userID, false).
		Update("is_read", true)
	if res.Error != nil {
		log.Error("Failed to mark messages read", zap.Uint("target_user_id", otherID), zap.Error(res.Error))
		return response.Internal(c)
	}

	prometheus.RecordChatMessages("read", int(res.RowsAffected))
	return response.OK(c, "Messages marked as read", echo.Map{"marked_read": res.RowsAffected})
}

// DeleteMessage removes a message. Only its sender may delete it.
func (h *Handler) DeleteMessage(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	id, ok := parseID(c, "message_id")
	if !ok {
		return response.NotFound(c, "Message not found")
	}

	var message model.Chat
	if err := h.db.WithContext(ctx).First(&message, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Message not found")
		}
		log.Error("Failed to load message", zap.Uint("message_id", id), zap.Error(err))
		return response.Internal(c)
	}
	if message.SenderID != userID {
		return response.Forbidden(c, "Not authorized")
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := h.db.WithContext(ctx).Delete(&message).Error; err != nil {
		log.Error("Failed to delete message", zap.Uint("message_id", id), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordChatMessages("deleted", 1)
	return response.OK(c, "Message deleted successfully", nil)
}
