package boardstate

import "sync"

// Selection is the mutable open-task cell. Callbacks read it at fire time
// instead of capturing the task ID at registration, and asynchronous loads
// carry the generation token so a completion for a superseded selection can
// be recognized and discarded.
type Selection struct {
	mu     sync.Mutex
	taskID string
	gen    uint64
}

// Set records the open task and returns the generation token for any load
// started on its behalf.
func (s *Selection) Set(taskID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskID = taskID
	s.gen++
	return s.gen
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskID = ""
	s.gen++
}

func (s *Selection) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID, s.taskID != ""
}

// Valid reports whether a load started under token still targets the open
// task.
func (s *Selection) Valid(taskID string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID == taskID && s.gen == token
}
