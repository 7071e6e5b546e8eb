// Package auth issues and validates the API keys clients use to call the service.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentrag/internal/redis"
)

const (
	keyPrefix      = "ak_"
	redisKeyPrefix = "auth:key:"
)

var (
	ErrKeyRequired = errors.New("api key required")
	ErrInvalidKey  = errors.New("invalid api key")
)

// Service issues, validates, and revokes client API keys. Only key hashes are stored.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	cacheTTL   time.Duration
	headerName string
	logger     *zap.Logger
}

// NewService constructs an auth service. cache may be nil; cacheTTL bounds how
// long a validated key is trusted without hitting the database.
func NewService(db *sql.DB, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         db,
		cache:      cache,
		cacheTTL:   cacheTTL,
		headerName: "Authorization",
		logger:     logger,
	}
}

// IssueKey mints a new key for clientID and persists its hash.
func (s *Service) IssueKey(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", errors.New("client id is required")
	}
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		key, err := generateKey()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO api_keys (client_id, key_hash, created_at) VALUES (?, ?, ?)`,
			clientID, hashKey(key), now,
		)
		if err == nil {
			return key, nil
		}
		s.logger.Warn("issue api key retry", zap.Int("attempt", i+1), zap.Error(err))
	}
	return "", errors.New("could not issue api key")
}

// ValidateKey returns the client owning key.
func (s *Service) ValidateKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrKeyRequired
	}
	hash := hashKey(key)
	if s.cache != nil {
		if clientID, err := s.cache.Get(ctx, redisKeyPrefix+hash); err == nil && clientID != "" {
			return clientID, nil
		} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("api key cache lookup failed", zap.Error(err))
		}
	}

	var clientID string
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL`, hash,
	).Scan(&clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidKey
		}
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, redisKeyPrefix+hash, clientID, s.cacheTTL); err != nil {
			s.logger.Warn("api key cache store failed", zap.Error(err))
		}
	}
	return clientID, nil
}

// RevokeKey disables a single key.
func (s *Service) RevokeKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	hash := hashKey(key)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE key_hash = ? AND revoked_at IS NULL`,
		time.Now().UTC(), hash,
	); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisKeyPrefix+hash); err != nil {
			return fmt.Errorf("evict api key: %w", err)
		}
	}
	return nil
}

// RevokeClientKeys disables every key belonging to clientID.
func (s *Service) RevokeClientKeys(ctx context.Context, clientID string) error {
	if clientID == "" {
		return nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_hash FROM api_keys WHERE client_id = ? AND revoked_at IS NULL`, clientID)
	if err != nil {
		return fmt.Errorf("list client keys: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("scan client key: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE client_id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), clientID,
	); err != nil {
		return fmt.Errorf("revoke client keys: %w", err)
	}
	if s.cache != nil && len(hashes) > 0 {
		keys := make([]string, len(hashes))
		for i, h := range hashes {
			keys[i] = redisKeyPrefix + h
		}
		if err := s.cache.Del(ctx, keys...); err != nil {
			return fmt.Errorf("evict client keys: %w", err)
		}
	}
	return nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
