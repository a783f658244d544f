package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Access and refresh tokens are encrypted with AES-256-GCM before write and
// decrypted after read; all other columns are stored in the clear.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when credential storage is disabled.
}

// NewCredentialRepo creates a CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable credential storage (all operations return
// ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Upsert creates or replaces the credential for (cred.UserID, cred.Provider).
func (r *CredentialRepo) Upsert(ctx context.Context, cred model.Credential) error {
	accessEnc, err := r.encrypt(cred.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc, err := r.encrypt(cred.RefreshToken)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO credentials (
			user_id, provider, access_token, refresh_token, token_expires_at,
			last_sync_at, external_subject_id
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			external_subject_id = excluded.external_subject_id,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`

	var lastSync any
	if cred.LastSyncAt != nil {
		lastSync = formatTime(*cred.LastSyncAt)
	}

	var subject any
	if cred.ExternalSubjectID != "" {
		subject = cred.ExternalSubjectID
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.UserID, string(cred.Provider), accessEnc, refreshEnc,
		formatTime(cred.TokenExpiresAt), lastSync, subject,
	)
	if err != nil {
		return fmt.Errorf("upsert credential %s/%s: %w", cred.UserID, cred.Provider, err)
	}
	return nil
}

// Get returns the credential for the pair, or (nil, nil) when the user has
// not connected the provider.
func (r *CredentialRepo) Get(ctx context.Context, userID string, provider model.Provider) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = credentialColumns + ` WHERE user_id = ? AND provider = ?`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, userID, string(provider)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s/%s: %w", userID, provider, err)
	}
	return cred, nil
}

// GetByExternalSubject resolves a credential from the provider-assigned
// subject identifier. Returns (nil, nil) when no credential matches.
func (r *CredentialRepo) GetByExternalSubject(ctx context.Context, provider model.Provider, subjectID string) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = credentialColumns + ` WHERE provider = ? AND external_subject_id = ?`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, string(provider), subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential by subject %s/%s: %w", provider, subjectID, err)
	}
	return cred, nil
}

// UpdateTokens atomically replaces the token triple for the pair.
func (r *CredentialRepo) UpdateTokens(ctx context.Context, userID string, provider model.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	accessEnc, err := r.encrypt(accessToken)
	if err != nil {
		return err
	}
	refreshEnc, err := r.encrypt(refreshToken)
	if err != nil {
		return err
	}

	const query = `
		UPDATE credentials
		SET access_token = ?, refresh_token = ?, token_expires_at = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE user_id = ? AND provider = ?
	`

	res, err := r.db.Writer.ExecContext(ctx, query,
		accessEnc, refreshEnc, formatTime(expiresAt), userID, string(provider),
	)
	if err != nil {
		return fmt.Errorf("update tokens %s/%s: %w", userID, provider, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tokens %s/%s: %w", userID, provider, err)
	}
	if affected == 0 {
		return fmt.Errorf("update tokens %s/%s: credential not found", userID, provider)
	}
	return nil
}

// AdvanceCheckpoint sets last_sync_at for the pair to syncedAt.
func (r *CredentialRepo) AdvanceCheckpoint(ctx context.Context, userID string, provider model.Provider, syncedAt time.Time) error {
	const query = `
		UPDATE credentials
		SET last_sync_at = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE user_id = ? AND provider = ?
	`

	_, err := r.db.Writer.ExecContext(ctx, query, formatTime(syncedAt), userID, string(provider))
	if err != nil {
		return fmt.Errorf("advance checkpoint %s/%s: %w", userID, provider, err)
	}
	return nil
}

// ListByProvider returns every credential stored for one provider, ordered by user.
func (r *CredentialRepo) ListByProvider(ctx context.Context, provider model.Provider) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = credentialColumns + ` WHERE provider = ? ORDER BY user_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(provider))
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", provider, err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Delete removes the credential for the pair.
func (r *CredentialRepo) Delete(ctx context.Context, userID string, provider model.Provider) error {
	const query = `DELETE FROM credentials WHERE user_id = ? AND provider = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, userID, string(provider))
	if err != nil {
		return fmt.Errorf("delete credential %s/%s: %w", userID, provider, err)
	}
	return nil
}

const credentialColumns = `
	SELECT id, user_id, provider, access_token, refresh_token, token_expires_at,
	       last_sync_at, external_subject_id, created_at, updated_at
	FROM credentials`

func (r *CredentialRepo) scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var provider, accessEnc, refreshEnc, expiresAt, createdAt, updatedAt string
	var lastSync, subject sql.NullString

	err := s.Scan(
		&cred.ID, &cred.UserID, &provider, &accessEnc, &refreshEnc, &expiresAt,
		&lastSync, &subject, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Provider = model.Provider(provider)

	if cred.AccessToken, err = r.decrypt(accessEnc); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = r.decrypt(refreshEnc); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	if cred.TokenExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse token_expires_at: %w", err)
	}
	if lastSync.Valid {
		t, err := parseTime(lastSync.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_sync_at: %w", err)
		}
		cred.LastSyncAt = &t
	}
	if subject.Valid {
		cred.ExternalSubjectID = subject.String
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cred, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
