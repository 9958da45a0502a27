// Package thread provides the in-memory conversation thread store. Threads
// are scoped to a user; all store operations authorize against the owning
// user's ID.
package thread

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the thread does not exist or belongs to another user.
var ErrNotFound = errors.New("thread not found")

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single conversation message.
type Message struct {
	Role     MessageRole    `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Thread is one conversation thread.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	mu sync.RWMutex
}

// AddMessage appends a message to the thread (thread-safe).
func (t *Thread) AddMessage(role MessageRole, content string, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.Messages = append(t.Messages, Message{
		Role:     role,
		Content:  content,
		Metadata: metadata,
		SentAt:   now,
	})
	t.UpdatedAt = now
}

// Clone creates a safe copy of the thread for reading.
func (t *Thread) Clone() Thread {
	t.mu.RLock()
	defer t.mu.RUnlock()

	messages := make([]Message, len(t.Messages))
	copy(messages, t.Messages)

	return Thread{
		ID:        t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Messages:  messages,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// Store manages threads in memory.
type Store struct {
	threads map[string]*Thread
	mu      sync.RWMutex
}

// NewStore creates an empty thread store.
func NewStore() *Store {
	return &Store{
		threads: make(map[string]*Thread),
	}
}

// Create creates a new thread for the user. An empty title gets a default.
func (s *Store) Create(userID, title string) *Thread {
	if title == "" {
		title = "New conversation"
	}
	now := time.Now()
	t := &Thread{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.threads[t.ID] = t
	s.mu.Unlock()

	return t
}

// Get retrieves a thread owned by userID.
func (s *Store) Get(userID, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	return t, nil
}

// Rename changes a thread's title.
func (s *Store) Rename(userID, threadID, title string) error {
	t, err := s.Get(userID, threadID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.Title = title
	t.UpdatedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Delete removes a thread owned by userID.
func (s *Store) Delete(userID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok || t.UserID != userID {
		return fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	delete(s.threads, threadID)
	return nil
}

// List returns copies of the user's threads, most recently updated first.
func (s *Store) List(userID string) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Thread
	for _, t := range s.threads {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// AddMessage appends a message to a thread owned by userID.
func (s *Store) AddMessage(userID, threadID string, role MessageRole, content string, metadata map[string]any) error {
	t, err := s.Get(userID, threadID)
	if err != nil {
		return err
	}
	t.AddMessage(role, content, metadata)
	return nil
}

// PruneStale removes threads not updated within retention. Zero retention
// disables pruning. Returns the number of threads removed.
func (s *Store) PruneStale(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.threads {
		t.mu.RLock()
		stale := t.UpdatedAt.Before(cutoff)
		t.mu.RUnlock()
		if stale {
			delete(s.threads, id)
			removed++
		}
	}
	return removed
}

// Count returns the total number of stored threads.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
