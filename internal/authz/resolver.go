package authz

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jtaw5649/barforge-web/internal/crypto"
	"github.com/jtaw5649/barforge-web/internal/log"
	"github.com/jtaw5649/barforge-web/internal/registry"
)

const cacheTTL = 30 * time.Second

// TokenSource exposes the session fields the resolver needs: a stable
// cache key and the encrypted provider token.
type TokenSource interface {
	ID() string
	Token() string
}

type cacheEntry struct {
	admin   bool
	expires time.Time
}

// Resolver answers "is this user an admin". Resolution is fail-closed:
// any decryption or upstream failure yields false, never an error the
// caller could mistake for privilege.
type Resolver struct {
	allowList map[string]struct{}
	client    *registry.Client
	key       [32]byte

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewResolver creates a resolver. Logins in allowList are admins without
// any network call; everyone else is resolved through the registry role.
func NewResolver(allowList []string, client *registry.Client, key [32]byte) *Resolver {
	allowed := make(map[string]struct{}, len(allowList))
	for _, login := range allowList {
		login = strings.ToLower(strings.TrimSpace(login))
		if login != "" {
			allowed[login] = struct{}{}
		}
	}
	return &Resolver{
		allowList: allowed,
		client:    client,
		key:       key,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// IsAdmin resolves admin status for the given login and session
func (r *Resolver) IsAdmin(ctx context.Context, login string, sess TokenSource) bool {
	if _, ok := r.allowList[strings.ToLower(login)]; ok {
		return true
	}

	key := sess.ID()
	if admin, ok := r.cached(key); ok {
		return admin
	}

	result, _, _ := r.group.Do(key, func() (any, error) {
		admin := r.resolveRemote(ctx, login, sess)
		r.store(key, admin)
		return admin, nil
	})
	admin, _ := result.(bool)
	return admin
}

// Invalidate drops the cached decision for a session, for use on logout
// and token removal
func (r *Resolver) Invalidate(sessionID string) {
	r.mu.Lock()
	delete(r.cache, sessionID)
	r.mu.Unlock()
}

func (r *Resolver) resolveRemote(ctx context.Context, login string, sess TokenSource) bool {
	blob := sess.Token()
	if blob == "" {
		return false
	}

	accessToken, err := crypto.Decrypt(r.key, blob)
	if err != nil {
		log.LogWarnWithFields("authz", "Stored token failed decryption", map[string]any{
			"login": login,
		})
		return false
	}

	profile, err := r.client.FetchProfile(ctx, accessToken)
	if err != nil {
		log.LogWarnWithFields("authz", "Role lookup failed", map[string]any{
			"login": login,
			"error": err.Error(),
		})
		return false
	}
	if profile == nil {
		return false
	}
	return profile.Role.Elevated()
}

func (r *Resolver) cached(key string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok || r.now().After(entry.expires) {
		return false, false
	}
	return entry.admin, true
}

func (r *Resolver) store(key string, admin bool) {
	r.mu.Lock()
	r.cache[key] = cacheEntry{admin: admin, expires: r.now().Add(cacheTTL)}
	r.mu.Unlock()
}
