package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// envelopeKey holds the ciphertext in the payload of a stored token.
const envelopeKey = "__encrypted__"

// ErrNotEncrypted is returned when a stored token has no encrypted envelope.
var ErrNotEncrypted = errors.New("token is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt a
	// record, so keys can be rotated while records written with the old one
	// are still suspended.
	FallbackKeys [][]byte
}

// sealed is the encrypted part of a token. Ids stay in clear text so the
// stores can still index records.
type sealed struct {
	Payload any                  `json:"payload,omitempty"`
	History []domain.ResultEntry `json:"history,omitempty"`
}

type encryptionMiddleware struct {
	next   ports.FlowNodeInstanceRepository
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts the payload and
// history of every stored token with AES-GCM.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, fmt.Errorf("active key must be 32 bytes (AES-256), got %d", len(config.ActiveKey))
	}
	return func(next ports.FlowNodeInstanceRepository) ports.FlowNodeInstanceRepository {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) seal(tok domain.ProcessToken) (domain.ProcessToken, error) {
	plainText, err := json.Marshal(sealed{Payload: tok.Payload, History: tok.History})
	if err != nil {
		return tok, fmt.Errorf("failed to marshal token: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return tok, fmt.Errorf("failed to encrypt token: %w", err)
	}
	envelope := tok
	envelope.Payload = map[string]any{envelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}
	envelope.History = nil
	return envelope, nil
}

func (m *encryptionMiddleware) open(inst *domain.FlowNodeInstance) error {
	env, _ := inst.Token.Payload.(map[string]any)
	encoded, ok := env[envelopeKey].(string)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotEncrypted, inst.ID)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return fmt.Errorf("failed to decrypt token of %s: %w", inst.ID, err)
	}
	var s sealed
	if err := json.Unmarshal(plainText, &s); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted token: %w", err)
	}
	inst.Token.Payload = s.Payload
	inst.Token.History = s.History
	return nil
}

func (m *encryptionMiddleware) openAll(list []*domain.FlowNodeInstance, err error) ([]*domain.FlowNodeInstance, error) {
	if err != nil {
		return nil, err
	}
	for _, inst := range list {
		if err := m.open(inst); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (m *encryptionMiddleware) PersistOnEnter(ctx context.Context, inst *domain.FlowNodeInstance) error {
	tok, err := m.seal(inst.Token)
	if err != nil {
		return err
	}
	stored := *inst
	stored.Token = tok
	return m.next.PersistOnEnter(ctx, &stored)
}

func (m *encryptionMiddleware) PersistOnExit(ctx context.Context, id string, token domain.ProcessToken) error {
	tok, err := m.seal(token)
	if err != nil {
		return err
	}
	return m.next.PersistOnExit(ctx, id, tok)
}

func (m *encryptionMiddleware) PersistOnSuspend(ctx context.Context, id string, token domain.ProcessToken) error {
	tok, err := m.seal(token)
	if err != nil {
		return err
	}
	return m.next.PersistOnSuspend(ctx, id, tok)
}

func (m *encryptionMiddleware) PersistOnResume(ctx context.Context, id string, token domain.ProcessToken) error {
	tok, err := m.seal(token)
	if err != nil {
		return err
	}
	return m.next.PersistOnResume(ctx, id, tok)
}

func (m *encryptionMiddleware) PersistOnError(ctx context.Context, id string, token domain.ProcessToken, cause error) error {
	tok, err := m.seal(token)
	if err != nil {
		return err
	}
	return m.next.PersistOnError(ctx, id, tok, cause)
}

func (m *encryptionMiddleware) PersistOnCancel(ctx context.Context, id string, token domain.ProcessToken) error {
	tok, err := m.seal(token)
	if err != nil {
		return err
	}
	return m.next.PersistOnCancel(ctx, id, tok)
}

func (m *encryptionMiddleware) GetByID(ctx context.Context, id string) (*domain.FlowNodeInstance, error) {
	inst, err := m.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.open(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (m *encryptionMiddleware) QueryByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return m.openAll(m.next.QueryByCorrelation(ctx, correlationID))
}

func (m *encryptionMiddleware) QueryByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return m.openAll(m.next.QueryByProcessModel(ctx, processModelID))
}

func (m *encryptionMiddleware) QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*domain.FlowNodeInstance, error) {
	return m.openAll(m.next.QueryByProcessInstance(ctx, processInstanceID))
}

func (m *encryptionMiddleware) QuerySuspendedByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return m.openAll(m.next.QuerySuspendedByCorrelation(ctx, correlationID))
}

func (m *encryptionMiddleware) QuerySuspendedByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return m.openAll(m.next.QuerySuspendedByProcessModel(ctx, processModelID))
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
