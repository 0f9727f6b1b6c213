// Package store is the in-memory persistence behind the local relay server:
// users, trade requests and chat messages.
package store

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"skill-barter/messaging/internal/models"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("username already taken")
	ErrTradeNotFound    = errors.New("request not found")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrTradeNotAccepted = errors.New("trade not accepted")
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	users    map[int64]models.User
	trades   map[int64]models.TradeRequest
	messages []models.Message

	nextUser, nextTrade, nextMessage int64
	now                              func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:  make(map[int64]models.User),
		trades: make(map[int64]models.TradeRequest),
		now:    time.Now,
	}
}

// CreateUser adds a user and assigns its id.
func (s *Store) CreateUser(username, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return models.User{}, ErrUserExists
		}
	}
	s.nextUser++
	u := models.User{ID: s.nextUser, Username: username, Email: email}
	s.users[u.ID] = u
	return u, nil
}

// User looks a user up by id.
func (s *Store) User(id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

// UserByName looks a user up by username, case-insensitively.
func (s *Store) UserByName(username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

// CreateTrade opens a pending trade request from senderID to receiverID.
func (s *Store) CreateTrade(senderID, receiverID int64, skill string) (models.TradeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.users[senderID]
	if !ok {
		return models.TradeRequest{}, ErrUserNotFound
	}
	receiver, ok := s.users[receiverID]
	if !ok {
		return models.TradeRequest{}, ErrUserNotFound
	}

	s.nextTrade++
	t := models.TradeRequest{
		ID:         s.nextTrade,
		Status:     models.TradeStatusPending,
		Skill:      skill,
		Sender:     sender.Username,
		Receiver:   receiver.Username,
		SenderID:   senderID,
		ReceiverID: receiverID,
	}
	s.trades[t.ID] = t
	return t, nil
}

// Trade looks a trade request up by id.
func (s *Store) Trade(id int64) (models.TradeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return models.TradeRequest{}, ErrTradeNotFound
	}
	return t, nil
}

// TradesFor returns userID's requests split by direction, in id order.
func (s *Store) TradesFor(userID int64) models.TradeRequests {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.TradeRequests{Sent: []models.TradeRequest{}, Received: []models.TradeRequest{}}
	for _, t := range s.trades {
		switch userID {
		case t.SenderID:
			out.Sent = append(out.Sent, t)
		case t.ReceiverID:
			out.Received = append(out.Received, t)
		}
	}
	byID := func(list []models.TradeRequest) {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	byID(out.Sent)
	byID(out.Received)
	return out
}

// SetTradeStatus accepts or rejects a pending request. Only the receiver
// may decide.
func (s *Store) SetTradeStatus(id, userID int64, status string) (models.TradeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok || t.ReceiverID != userID {
		return models.TradeRequest{}, ErrTradeNotFound
	}
	if t.Status != models.TradeStatusPending {
		return models.TradeRequest{}, ErrAlreadyProcessed
	}
	t.Status = status
	s.trades[id] = t
	return t, nil
}

// SaveMessage persists msg and returns it with its id, server timestamp
// and conversation key. Messages tied to a trade request require the
// request to be accepted.
func (s *Store) SaveMessage(msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.HasRequest() {
		t, ok := s.trades[*msg.RequestID]
		if !ok || t.Status != models.TradeStatusAccepted {
			return models.Message{}, ErrTradeNotAccepted
		}
	} else {
		msg.RequestID = nil
	}

	s.nextMessage++
	msg.ID = s.nextMessage
	msg.SentAt = models.NewTimestamp(s.now().UTC())
	msg.ConversationKey = models.ConversationKey(msg.SenderID, msg.ReceiverID)
	msg.LocalID, msg.Pending, msg.Failed, msg.FailReason = "", false, false, ""

	s.messages = append(s.messages, msg)
	return msg, nil
}

// RequestHistory returns the messages of a trade negotiation, oldest first.
func (s *Store) RequestHistory(requestID int64) []models.Message {
	return s.filter(func(m models.Message) bool {
		return m.RequestID != nil && *m.RequestID == requestID
	})
}

// DirectHistory returns every message exchanged between a and b, oldest
// first, including those sent inside trade negotiations.
func (s *Store) DirectHistory(a, b int64) []models.Message {
	key := models.ConversationKey(a, b)
	return s.filter(func(m models.Message) bool { return m.ConversationKey == key })
}

func (s *Store) filter(keep func(models.Message) bool) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Message{}
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	// append order is id order; stable keeps it for equal timestamps
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt.Time) })
	return out
}

// Summaries returns one row per partner userID has exchanged messages
// with, most recent first.
func (s *Store) Summaries(userID int64) []models.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]models.Message)
	for _, m := range s.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		if prev, ok := latest[m.ConversationKey]; !ok || !m.SentAt.Before(prev.SentAt.Time) {
			latest[m.ConversationKey] = m
		}
	}

	out := make([]models.ConversationSummary, 0, len(latest))
	for key, m := range latest {
		partner := partnerFromKey(key, userID)
		out = append(out, models.ConversationSummary{
			ConversationKey: key,
			PartnerID:       partner,
			PartnerUsername: s.users[partner].Username,
			LatestMessage:   m.Body,
			LastActivityAt:  m.SentAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt.Time) {
			return out[i].ConversationKey < out[j].ConversationKey
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt.Time)
	})
	return out
}

func partnerFromKey(key string, self int64) int64 {
	a, b, ok := strings.Cut(key, "_")
	if !ok {
		return 0
	}
	lo, _ := strconv.ParseInt(a, 10, 64)
	hi, _ := strconv.ParseInt(b, 10, 64)
	if lo == self {
		return hi
	}
	return lo
}

// Counts reports the number of stored users, trade requests and messages.
func (s *Store) Counts() (users, trades, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.trades), len(s.messages)
}

// SeedDemo fills an empty store with three users, an accepted trade
// between the first two and a pending one from the third.
func (s *Store) SeedDemo() error {
	alice, err := s.CreateUser("alice", "alice@example.com")
	if err != nil {
		return err
	}
	bob, err := s.CreateUser("bob", "bob@example.com")
	if err != nil {
		return err
	}
	carol, err := s.CreateUser("carol", "carol@example.com")
	if err != nil {
		return err
	}

	guitar, err := s.CreateTrade(alice.ID, bob.ID, "guitar")
	if err != nil {
		return err
	}
	if _, err := s.SetTradeStatus(guitar.ID, bob.ID, models.TradeStatusAccepted); err != nil {
		return err
	}
	_, err = s.CreateTrade(carol.ID, alice.ID, "spanish")
	return err
}
