package store

import (
	"database/sql"
	"strings"
	"time"
)

// Token is a caption token accepted during a session.
type Token struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenRepository stores caption tokens.
type TokenRepository struct {
	db *sql.DB
}

// Tokens returns the token repository for this store.
func (s *Store) Tokens() *TokenRepository {
	return &TokenRepository{db: s.db}
}

// Add records a token for a session.
func (r *TokenRepository) Add(sessionID, token string) (*Token, error) {
	tok := &Token{
		SessionID: sessionID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}

	result, err := r.db.Exec(
		`INSERT INTO caption_tokens (session_id, token, created_at) VALUES (?, ?, ?)`,
		tok.SessionID, tok.Token, tok.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tok.ID, err = result.LastInsertId(); err != nil {
		return nil, err
	}
	return tok, nil
}

// ListBySession returns a session's tokens in the order they were accepted.
func (r *TokenRepository) ListBySession(sessionID string) ([]*Token, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, token, created_at
		 FROM caption_tokens WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		tok := &Token{}
		if err := rows.Scan(&tok.ID, &tok.SessionID, &tok.Token, &tok.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tokens, nil
}

// Transcript joins a session's tokens with single spaces.
func (r *TokenRepository) Transcript(sessionID string) (string, error) {
	tokens, err := r.ListBySession(sessionID)
	if err != nil {
		return "", err
	}
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Token
	}
	return strings.Join(words, " "), nil
}
