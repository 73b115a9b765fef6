package oauth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/1mcp-app/agent/internal/errs"
	"github.com/1mcp-app/agent/internal/log"
)

// scryptSalt, scryptN/R/P and keyLen are the KDF parameters spec.md §6
// fixes for deriving the at-rest encryption key from
// ONE_MCP_ENCRYPTION_KEY.
const (
	scryptSalt = "1mcp-salt"
	scryptN    = 16384
	scryptR    = 8
	scryptP    = 1
	keyLen     = 32
)

// recordKind distinguishes the four record kinds spec.md §6's TTL table
// names, each with its own filename prefix and lifetime.
type recordKind string

const (
	KindSession     recordKind = "session"
	KindAuthCode    recordKind = "authcode"
	KindAuthRequest recordKind = "authreq"
	KindToken       recordKind = "token"
)

var prefixes = map[recordKind]string{
	KindSession:     "sess_",
	KindAuthCode:    "authcode_",
	KindAuthRequest: "authreq_",
	KindToken:       "token_",
}

var ttls = map[recordKind]time.Duration{
	KindSession:     24 * time.Hour,
	KindAuthCode:    time.Minute,
	KindAuthRequest: 10 * time.Minute,
	KindToken:       24 * time.Hour,
}

// deriveKey runs scrypt against the operator-supplied encryption key
// using the fixed parameters spec.md §6 names.
func deriveKey(secret string) ([]byte, error) {
	key, err := scrypt.Key([]byte(secret), []byte(scryptSalt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, errs.New(errs.InternalErr, "oauth.deriveKey", err)
	}
	return key, nil
}

// envelope is the on-disk shape for every encrypted record: a random
// nonce alongside the AES-256-GCM ciphertext.
type envelope struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// record is the JSON shape wrapped in the envelope before encryption:
// the caller's payload plus the expiry used by Sweep.
type record struct {
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Store persists OAuth session/auth-code/auth-request/token records as
// one encrypted JSON file per record under <configDir>/sessions/, per
// spec.md §6 "Persisted state". AES-256-GCM is from the standard
// library — no AEAD implementation appears anywhere in the retrieved
// corpus, so there is no ecosystem library to prefer over crypto/aes +
// crypto/cipher here; the KDF half (scrypt) does come from the corpus's
// golang.org/x/crypto.
type Store struct {
	dir string
	key []byte
}

// NewStore derives the at-rest key from encryptionKey and ensures
// <configDir>/sessions exists.
func NewStore(configDir, encryptionKey string) (*Store, error) {
	key, err := deriveKey(encryptionKey)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(configDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.New(errs.InternalErr, "oauth.NewStore", err)
	}
	return &Store{dir: dir, key: key}, nil
}

func (s *Store) path(kind recordKind, id string) string {
	return filepath.Join(s.dir, prefixes[kind]+id+".json")
}

// Put encrypts and writes payload under the record's id, stamping its
// expiry from the fixed TTL table.
func (s *Store) Put(kind recordKind, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}
	rec := record{Payload: data, ExpiresAt: time.Now().Add(ttls[kind])}
	plain, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plain, nil)

	env, err := json.Marshal(envelope{Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}
	if err := os.WriteFile(s.path(kind, id), env, 0o600); err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Put", err)
	}
	return nil
}

// Get decrypts and unmarshals the record into out, reporting
// errs.InvalidRequest if the record is absent or expired.
func (s *Store) Get(kind recordKind, id string, out any) error {
	data, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		return errs.New(errs.InvalidRequest, "oauth.Store.Get", fmt.Errorf("record %q/%q not found", kind, id))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Get", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Get", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Get", err)
	}
	plain, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Get", fmt.Errorf("decrypting record: %w", err))
	}

	var rec record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return errs.New(errs.InternalErr, "oauth.Store.Get", err)
	}
	if time.Now().After(rec.ExpiresAt) {
		_ = s.Delete(kind, id)
		return errs.New(errs.InvalidRequest, "oauth.Store.Get", fmt.Errorf("record %q/%q expired", kind, id))
	}
	return json.Unmarshal(rec.Payload, out)
}

// ValidateBearer implements ServerAuthProvider: the bearer token itself
// is the session record id, so a successful decrypt-and-unexpired Get
// is sufficient proof of validity. Records are written by the
// out-of-scope OAuth authorization endpoints (spec.md §4.10's
// Non-goals) when a session is issued.
func (s *Store) ValidateBearer(ctx context.Context, token string) (Claims, error) {
	var claims Claims
	if err := s.Get(KindSession, token, &claims); err != nil {
		return Claims{}, errs.New(errs.Unauthenticated, "oauth.Store.ValidateBearer", fmt.Errorf("invalid or expired bearer"))
	}
	return claims, nil
}

// Delete removes a record; absence is not an error.
func (s *Store) Delete(kind recordKind, id string) error {
	err := os.Remove(s.path(kind, id))
	if err != nil && !os.IsNotExist(err) {
		return errs.New(errs.InternalErr, "oauth.Store.Delete", err)
	}
	return nil
}

// Sweep reads every on-disk record through Get, which deletes the ones
// whose decrypted expiry has passed; records that cannot be read or
// decrypted are logged and left in place. It runs on a 5-minute tick
// by the caller (spec.md §6's TTLs
// otherwise never actually free anything — recorded as a decision in
// DESIGN.md, not left as an Open Question).
func (s *Store) Sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, id, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		var discard json.RawMessage
		if err := s.Get(kind, id, &discard); err != nil {
			log.With("record", e.Name()).Debug("sweep: record expired or unreadable", "err", err)
		}
	}
}

func parseFilename(name string) (recordKind, string, bool) {
	name = strings.TrimSuffix(name, ".json")
	for kind, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return kind, strings.TrimPrefix(name, prefix), true
		}
	}
	return "", "", false
}

// RunSweeper ticks Sweep every 5 minutes until ctx is done.
func RunSweeper(ctx context.Context, s *Store) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
