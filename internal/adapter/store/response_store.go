package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/logger"
)

// ResponseStore persists standardized responses as per-session JSONL files.
// Append is the only write operation; files are never rewritten in place.
// One writer per session is enforced upstream by the dispatcher, so readers
// get deterministic conversation reconstruction without locks.
type ResponseStore struct {
	dir      string
	recovery *recoveryIndex
	logger   *logger.StyledLogger
}

func NewResponseStore(dir string, recoveryCapacity int, log *logger.StyledLogger) (*ResponseStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create responses directory %s: %w", dir, err)
	}

	return &ResponseStore{
		dir:      dir,
		recovery: newRecoveryIndex(recoveryCapacity),
		logger:   log,
	}, nil
}

// SaveResponse appends the JSON-encoded response as one line to the session's
// log file. Responses with no derivable session cannot be associated with a
// conversation; they are logged and dropped.
func (s *ResponseStore) SaveResponse(ctx context.Context, response *domain.StandardizedResponse) error {
	sessionID := response.SessionID()
	if sessionID == "" {
		s.logger.Warn("dropping response with no session association",
			"request_id", response.RequestID,
			"provider", response.Provider)
		return nil
	}

	path := s.sessionLogPath(sessionID)

	line, err := json.Marshal(response)
	if err != nil {
		return domain.NewStoreError("save_response", sessionID, path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return domain.NewStoreError("save_response", sessionID, path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return domain.NewStoreError("save_response", sessionID, path, err)
	}

	return nil
}

// ReadSessionResponses loads every response recorded for a session, in the
// order they were appended
func (s *ResponseStore) ReadSessionResponses(sessionID string) ([]*domain.StandardizedResponse, error) {
	path := s.sessionLogPath(sessionID)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.NewStoreError("read_session", sessionID, path, err)
	}
	defer f.Close()

	var responses []*domain.StandardizedResponse
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var response domain.StandardizedResponse
		if err := json.Unmarshal(line, &response); err != nil {
			s.logger.Warn("skipping malformed response log line",
				"session_id", sessionID, "error", err)
			continue
		}
		responses = append(responses, &response)
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.NewStoreError("read_session", sessionID, path, err)
	}

	return responses, nil
}

// SaveRecovery indexes the original payload so a retry can be reconstructed
func (s *ResponseStore) SaveRecovery(requestID, sessionID string, original map[string]any) {
	s.recovery.Save(requestID, sessionID, original)
}

func (s *ResponseStore) GetRecovery(requestID string) (map[string]any, bool) {
	return s.recovery.Get(requestID)
}

func (s *ResponseStore) ClearRecovery(requestID string) {
	s.recovery.Clear(requestID)
}

func (s *ResponseStore) RecoveryCount() int {
	return s.recovery.Len()
}

func (s *ResponseStore) sessionLogPath(sessionID string) string {
	return filepath.Join(s.dir, sanitizeSessionID(sessionID)+".jsonl")
}

// sanitizeSessionID keeps session-derived filenames inside the responses dir
func sanitizeSessionID(sessionID string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(sessionID)
}
