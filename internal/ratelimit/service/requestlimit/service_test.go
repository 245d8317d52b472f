package requestlimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"quotaguard/internal/ratelimit/config"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports/mocks"
	"quotaguard/internal/ratelimit/store/bucket"
	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
	"quotaguard/pkg/requestcontext"
)

// =============================================================================
// Request Limit Service Test Suite
// =============================================================================
// Window arithmetic (retry hints, rollover, stop-at-first-denial) depends on
// the clock, which is pinned here for both the store and the request.

type RequestLimitServiceSuite struct {
	suite.Suite
	now     time.Time
	windows *bucket.InMemoryStore
	service *Service
}

func TestRequestLimitServiceSuite(t *testing.T) {
	suite.Run(t, new(RequestLimitServiceSuite))
}

func (s *RequestLimitServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.windows = bucket.New(bucket.WithClock(func() time.Time { return s.now }))

	var err error
	s.service, err = New(s.windows, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
}

func (s *RequestLimitServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *RequestLimitServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *RequestLimitServiceSuite) scope(name models.ScopeName) models.Scope {
	scope, ok := s.service.Scope(name)
	s.Require().True(ok)
	return scope
}

func (s *RequestLimitServiceSuite) TestNew() {
	_, err := New(nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "window store is required")
}

func (s *RequestLimitServiceSuite) TestAllow() {
	s.Run("limit requests pass then the next is denied", func() {
		chat := s.scope(models.ScopeChat)
		client := models.Identity{Client: "203.0.113.1"}

		for i := range chat.Limit {
			res, err := s.service.Allow(s.ctx(), chat, client)
			s.Require().NoError(err)
			s.Require().True(res.Allowed, "request %d", i+1)
			s.Equal(chat.Limit-i-1, res.Remaining)
		}

		res, err := s.service.Allow(s.ctx(), chat, client)
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(models.ScopeChat, res.Scope)
		s.Zero(res.Remaining)
		s.Positive(res.RetryAfter)
		s.LessOrEqual(res.RetryAfter, chat.Window)
	})

	s.Run("window resets after it ends", func() {
		auth := s.scope(models.ScopeAuth)
		client := models.Identity{Client: "203.0.113.2"}
		for range auth.Limit + 3 {
			_, err := s.service.Allow(s.ctx(), auth, client)
			s.Require().NoError(err)
		}

		s.advance(auth.Window)
		res, err := s.service.Allow(s.ctx(), auth, client)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(auth.Limit-1, res.Remaining)
	})

	s.Run("retry after shrinks as the window ages", func() {
		payment := s.scope(models.ScopePayment)
		client := models.Identity{Client: "203.0.113.3"}
		for range payment.Limit {
			_, err := s.service.Allow(s.ctx(), payment, client)
			s.Require().NoError(err)
		}
		s.advance(45 * time.Second)

		res, err := s.service.Allow(s.ctx(), payment, client)
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(15*time.Second, res.RetryAfter)
		s.Equal(15, res.RetryAfterSeconds())
	})

	s.Run("authenticated callers are keyed by user", func() {
		search := s.scope(models.ScopeSearch)
		user := id.UserID(uuid.New())

		for range search.Limit {
			_, err := s.service.Allow(s.ctx(), search, models.Identity{UserID: user, Client: "203.0.113.4"})
			s.Require().NoError(err)
		}

		res, err := s.service.Allow(s.ctx(), search, models.Identity{UserID: user, Client: "198.51.100.4"})
		s.Require().NoError(err)
		s.False(res.Allowed, "same user from another address shares the window")

		res, err = s.service.Allow(s.ctx(), search, models.Identity{Client: "203.0.113.4"})
		s.Require().NoError(err)
		s.True(res.Allowed, "anonymous caller on the same address has its own window")
	})

	s.Run("client-only scopes ignore the user", func() {
		webhook := s.scope(models.ScopeWebhook)
		user := id.UserID(uuid.New())
		for range webhook.Limit {
			_, err := s.service.Allow(s.ctx(), webhook, models.Identity{UserID: user, Client: "203.0.113.5"})
			s.Require().NoError(err)
		}
		res, err := s.service.Allow(s.ctx(), webhook, models.Identity{Client: "203.0.113.5"})
		s.Require().NoError(err)
		s.False(res.Allowed)
	})

	s.Run("unknown scope is denied with a retry hint", func() {
		res, err := s.service.Allow(s.ctx(), models.Scope{Name: "nope"}, models.Identity{Client: "203.0.113.6"})
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(time.Minute, res.RetryAfter)
		s.Zero(res.Limit)
	})

	s.Run("scope given by name picks up the configured limit", func() {
		res, err := s.service.Allow(s.ctx(), models.Scope{Name: models.ScopeBurst}, models.Identity{Client: "203.0.113.7"})
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(60, res.Limit)
	})
}

func (s *RequestLimitServiceSuite) TestDeniedAttemptsCountTowardTheWindow() {
	s.Run("every attempt is stored, including denials", func() {
		auth := s.scope(models.ScopeAuth)
		client := models.Identity{Client: "203.0.113.40"}

		var denied int
		for range auth.Limit + 3 {
			res, err := s.service.Allow(s.ctx(), auth, client)
			s.Require().NoError(err)
			if !res.Allowed {
				denied++
			}
		}
		s.Equal(3, denied)

		count, _, err := s.windows.Count(s.ctx(), models.NewWindowKey(auth, client).String())
		s.Require().NoError(err)
		s.Equal(auth.Limit+3, count)
	})

	s.Run("scopes after the first denial are left untouched", func() {
		first := models.Scope{Name: "first", Limit: 1, Window: time.Minute}
		second := models.Scope{Name: "second", Limit: 10, Window: time.Minute}
		client := models.Identity{Client: "203.0.113.41"}

		for range 4 {
			_, err := s.service.AllowAll(s.ctx(), []models.Scope{first, second}, client)
			s.Require().NoError(err)
		}

		count, _, err := s.windows.Count(s.ctx(), models.NewWindowKey(first, client).String())
		s.Require().NoError(err)
		s.Equal(4, count, "the denying scope still counts each attempt")

		count, _, err = s.windows.Count(s.ctx(), models.NewWindowKey(second, client).String())
		s.Require().NoError(err)
		s.Equal(1, count, "only the single allowed pass reached the second scope")
	})
}

func (s *RequestLimitServiceSuite) TestAllowAll() {
	tight := models.Scope{Name: "tight", Limit: 2, Window: time.Minute}
	loose := models.Scope{Name: "loose", Limit: 5, Window: time.Hour}
	client := models.Identity{Client: "203.0.113.20"}

	s.Run("returns the most restrictive allowed result", func() {
		res, err := s.service.AllowAll(s.ctx(), []models.Scope{loose, tight}, client)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(models.ScopeName("tight"), res.Scope)
		s.Equal(1, res.Remaining)
	})

	s.Run("stops at the first denial", func() {
		_, err := s.service.AllowAll(s.ctx(), []models.Scope{tight, loose}, client)
		s.Require().NoError(err)

		res, err := s.service.AllowAll(s.ctx(), []models.Scope{tight, loose}, client)
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(models.ScopeName("tight"), res.Scope)

		peek, err := s.service.Peek(s.ctx(), loose, client)
		s.Require().NoError(err)
		s.Equal(3, peek.Remaining, "loose was charged twice, not three times")
	})

	s.Run("empty scope list is rejected", func() {
		_, err := s.service.AllowAll(s.ctx(), nil, client)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *RequestLimitServiceSuite) TestPeek() {
	upload := s.scope(models.ScopeUpload)
	client := models.Identity{Client: "203.0.113.30"}

	res, err := s.service.Peek(s.ctx(), upload, client)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(upload.Limit, res.Remaining)

	for range 3 {
		_, err := s.service.Allow(s.ctx(), upload, client)
		s.Require().NoError(err)
	}
	for range 10 {
		res, err = s.service.Peek(s.ctx(), upload, client)
		s.Require().NoError(err)
		s.Equal(upload.Limit-3, res.Remaining)
	}
}

func (s *RequestLimitServiceSuite) TestReset() {
	auth := s.scope(models.ScopeAuth)
	client := models.Identity{Client: "203.0.113.40"}
	for range auth.Limit + 1 {
		_, err := s.service.Allow(s.ctx(), auth, client)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.service.Reset(s.ctx(), auth, client))

	res, err := s.service.Allow(s.ctx(), auth, client)
	s.Require().NoError(err)
	s.True(res.Allowed)

	s.Run("empty identity is rejected", func() {
		err := s.service.Reset(s.ctx(), auth, models.Identity{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *RequestLimitServiceSuite) TestResetKey() {
	s.Run("client window", func() {
		burst := s.scope(models.ScopeBurst)
		client := models.Identity{Client: "203.0.113.50"}
		for range burst.Limit + 1 {
			_, err := s.service.Allow(s.ctx(), burst, client)
			s.Require().NoError(err)
		}

		err := s.service.ResetKey(s.ctx(), &models.ResetRateLimitRequest{Scope: " BURST ", Kind: "client", Identity: "203.0.113.50"})
		s.Require().NoError(err)

		res, err := s.service.Peek(s.ctx(), burst, client)
		s.Require().NoError(err)
		s.Equal(burst.Limit, res.Remaining)
	})

	s.Run("user window", func() {
		user := id.UserID(uuid.New())
		err := s.service.ResetKey(s.ctx(), &models.ResetRateLimitRequest{Scope: "chat", Kind: "user", Identity: user.String()})
		s.Require().NoError(err)
	})

	s.Run("user kind on a client-only scope", func() {
		err := s.service.ResetKey(s.ctx(), &models.ResetRateLimitRequest{Scope: "auth", Kind: "user", Identity: uuid.NewString()})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown scope", func() {
		err := s.service.ResetKey(s.ctx(), &models.ResetRateLimitRequest{Scope: "nope", Kind: "client", Identity: "203.0.113.1"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("malformed user id", func() {
		err := s.service.ResetKey(s.ctx(), &models.ResetRateLimitRequest{Scope: "chat", Kind: "user", Identity: "not-a-uuid"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *RequestLimitServiceSuite) TestCustomConfig() {
	cfg := config.New(config.WithScope(models.Scope{Name: models.ScopeBurst, Limit: 1, Window: time.Second}))
	svc, err := New(s.windows, WithConfig(cfg))
	s.Require().NoError(err)

	client := models.Identity{Client: "203.0.113.60"}
	res, err := svc.Allow(s.ctx(), models.Scope{Name: models.ScopeBurst}, client)
	s.Require().NoError(err)
	s.True(res.Allowed)
	res, err = svc.Allow(s.ctx(), models.Scope{Name: models.ScopeBurst}, client)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.LessOrEqual(res.RetryAfter, time.Second)
}

func TestAllow_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	windows := mocks.NewMockWindowStore(ctrl)
	boom := errors.New("redis: connection refused")
	windows.EXPECT().Increment(gomock.Any(), "ratelimit:burst:client:203.0.113.1", time.Minute).Return(0, time.Time{}, boom)

	svc, err := New(windows)
	require.NoError(t, err)

	res, err := svc.Allow(context.Background(), models.Scope{Name: models.ScopeBurst}, models.Identity{Client: "203.0.113.1"})
	require.Nil(t, res)
	require.True(t, models.IsBackingStoreError(err))
	require.ErrorIs(t, err, boom)
}

func TestMoreRestrictiveResult(t *testing.T) {
	now := time.Now()
	a := &models.RateLimitResult{Remaining: 3, ResetAt: now}
	b := &models.RateLimitResult{Remaining: 1, ResetAt: now.Add(time.Hour)}
	c := &models.RateLimitResult{Remaining: 1, ResetAt: now.Add(time.Minute)}

	require.Same(t, b, moreRestrictiveResult(a, b))
	require.Same(t, c, moreRestrictiveResult(b, c))
	require.Same(t, a, moreRestrictiveResult(nil, a))
}
