// Package session keeps one WebUntis login per user and reuses it until it
// expires or a call made with it fails.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"untiscal/internal/config"
	appLog "untiscal/internal/log"
	"untiscal/internal/metrics"
	"untiscal/internal/model"
	"untiscal/internal/untis"
)

// DefaultTTL is how long a login is reused.
const DefaultTTL = 5 * time.Minute

// Authenticator is the login/logout half of the timetable service.
type Authenticator interface {
	Login(ctx context.Context, cred untis.Credentials) (*untis.Session, error)
	Logout(ctx context.Context, s *untis.Session) error
}

// Session is a cached login.
type Session struct {
	Handle    *untis.Session
	CreatedAt time.Time
}

// Pool maps usernames to live sessions. Concurrent Acquire calls for the
// same user share one login.
type Pool struct {
	auth Authenticator
	ttl  time.Duration
	nowF func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
	logins   singleflight.Group
}

// NewPool creates a pool. ttl <= 0 selects DefaultTTL.
func NewPool(auth Authenticator, ttl time.Duration) *Pool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Pool{
		auth:     auth,
		ttl:      ttl,
		nowF:     time.Now,
		sessions: make(map[string]Session),
	}
}

// SetClock replaces the time source. Tests use it to step past the TTL.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.nowF = now
	p.mu.Unlock()
}

// SetTTL changes the reuse window, e.g. after a config reload.
func (p *Pool) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	p.mu.Lock()
	p.ttl = ttl
	p.mu.Unlock()
}

func (p *Pool) fresh(username string) (*untis.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[username]
	if !ok || p.nowF().Sub(s.CreatedAt) >= p.ttl {
		return nil, false
	}
	return s.Handle, true
}

// Acquire returns a live session for user, logging in if needed. A rejected
// login returns *model.AuthError and leaves the pool unchanged.
//
// The login itself is not bound to ctx: if the caller gives up, the login
// still completes and is stored for the next request.
func (p *Pool) Acquire(ctx context.Context, user *config.User) (*untis.Session, error) {
	if h, ok := p.fresh(user.Username); ok {
		return h, nil
	}

	ch := p.logins.DoChan(user.Username, func() (any, error) {
		// Another flight may have finished between the check and here.
		if h, ok := p.fresh(user.Username); ok {
			return h, nil
		}
		return p.login(context.WithoutCancel(ctx), user)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*untis.Session), nil
	}
}

func (p *Pool) login(ctx context.Context, user *config.User) (*untis.Session, error) {
	cred := untis.Credentials{
		School:   user.School,
		Username: user.Username,
		Password: user.Password,
		Host:     untis.HostFromBaseURL(user.BaseURL),
	}

	h, err := p.auth.Login(ctx, cred)
	if err != nil {
		metrics.Logins.WithLabelValues("failed").Inc()
		appLog.Error("untis login failed", err, "user", user.Username, "host", cred.Host)
		return nil, &model.AuthError{Username: user.Username, Err: err}
	}
	metrics.Logins.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.sessions[user.Username] = Session{Handle: h, CreatedAt: p.nowF()}
	p.mu.Unlock()

	appLog.Info("untis session created", "user", user.Username, "host", cred.Host)
	return h, nil
}

// Invalidate drops the cached session for user and logs it out. Logout is
// best effort; errors are only logged. No-op when nothing is cached.
func (p *Pool) Invalidate(ctx context.Context, user *config.User) {
	p.drop(ctx, user, nil)
}

// InvalidateHandle is Invalidate limited to handle h. If the cached session
// has already been replaced by a newer login, it is left alone.
func (p *Pool) InvalidateHandle(ctx context.Context, user *config.User, h *untis.Session) {
	if h == nil {
		return
	}
	p.drop(ctx, user, h)
}

// drop removes the user's session if it is h, or unconditionally when h is nil.
func (p *Pool) drop(ctx context.Context, user *config.User, h *untis.Session) {
	p.mu.Lock()
	s, ok := p.sessions[user.Username]
	if ok && h != nil && s.Handle != h {
		ok = false
	}
	if ok {
		delete(p.sessions, user.Username)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	metrics.SessionInvalidations.Inc()
	if err := p.auth.Logout(context.WithoutCancel(ctx), s.Handle); err != nil {
		appLog.Warn("untis logout failed", "user", user.Username, "err", err)
	}
	appLog.Info("untis session invalidated", "user", user.Username)
}

// Len reports the number of cached sessions, expired ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
