package checker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"quotaguard/internal/ratelimit/config"
	"quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports/mocks"
	"quotaguard/internal/ratelimit/service/quota"
	"quotaguard/internal/ratelimit/service/requestlimit"
	"quotaguard/internal/ratelimit/store/bucket"
	"quotaguard/internal/ratelimit/store/eventlog"
	id "quotaguard/pkg/domain"
	"quotaguard/pkg/requestcontext"
)

// =============================================================================
// Checker Service Test Suite
// =============================================================================
// The facade is where identity resolution, both engines and the structured
// denial meet, so the end-to-end scenarios live here with in-memory stores.

type profile struct {
	kind  models.EntityKind
	id    string
	limit int
}

func (p profile) EntityID() string              { return p.id }
func (p profile) EntityKind() models.EntityKind { return p.kind }
func (p profile) DailyLimit() int               { return p.limit }

type CheckerServiceSuite struct {
	suite.Suite
	now      time.Time
	events   *eventlog.InMemoryStore
	metrics  *metrics.Metrics
	spans    *tracetest.SpanRecorder
	service  *Service
	requests *requestlimit.Service
}

func TestCheckerServiceSuite(t *testing.T) {
	suite.Run(t, new(CheckerServiceSuite))
}

func (s *CheckerServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.events = eventlog.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.spans = tracetest.NewSpanRecorder()

	cfg := config.DefaultConfig()
	quotas, err := quota.New(s.events, quota.WithConfig(cfg), quota.WithMetrics(s.metrics))
	s.Require().NoError(err)
	windows := bucket.New(bucket.WithClock(func() time.Time { return s.now }))
	s.requests, err = requestlimit.New(windows, requestlimit.WithConfig(cfg), requestlimit.WithMetrics(s.metrics))
	s.Require().NoError(err)

	s.service, err = New(s.requests, quotas,
		WithMetrics(s.metrics),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))),
	)
	s.Require().NoError(err)
}

func (s *CheckerServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func fromAddr(remote string) *models.Request {
	return &models.Request{Headers: http.Header{}, RemoteAddr: remote, UserAgent: "Mozilla/5.0"}
}

func (s *CheckerServiceSuite) TestNew() {
	s.Run("nil requests service returns error", func() {
		_, err := New(nil, &quota.Service{})
		s.Require().Error(err)
		s.Contains(err.Error(), "requests service is required")
	})

	s.Run("nil quotas service returns error", func() {
		_, err := New(s.requests, nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "quotas service is required")
	})
}

// Two anonymous clients, one profile with a limit of three.
func (s *CheckerServiceSuite) TestEnforceEntityView_Scenario() {
	doctor := profile{kind: models.EntityDoctor, id: "doc-42", limit: 3}
	clientA := fromAddr("203.0.113.7:51000")
	clientB := &models.Request{
		Headers:    http.Header{"X-Forwarded-For": []string{"10.0.0.5, 198.51.100.9"}},
		RemoteAddr: "10.0.0.1:443",
	}

	for i := range 3 {
		res, err := s.service.EnforceEntityView(s.ctx(), clientA, doctor)
		s.Require().NoError(err, "view %d", i+1)
		s.True(res.Allowed)
	}

	res, err := s.service.EnforceEntityView(s.ctx(), clientA, doctor)
	s.Require().Error(err)
	s.Require().NotNil(res)
	s.False(res.Allowed)
	s.Require().ErrorIs(err, models.ErrQuotaExceeded)

	te, ok := models.AsThrottle(err)
	s.Require().True(ok)
	s.Equal(3, te.Limit)
	s.Equal("entity", te.Scope)
	s.Nil(te.RetryAfter)
	s.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), te.ResetAt)
	s.Contains(te.Hint, "sign in")

	res, err = s.service.EnforceEntityView(s.ctx(), clientB, doctor)
	s.Require().NoError(err)
	s.True(res.Allowed)

	agg, err := s.events.Aggregate(s.ctx(), models.EntityDoctor, "doc-42", "2026-03-14", "2026-03-14")
	s.Require().NoError(err)
	s.Equal(4, agg.Total, "the denied view is not recorded")
	s.Equal(2, agg.UniqueClients)

	s.Run("signing in lifts the quota", func() {
		authed := fromAddr("203.0.113.7:51000")
		authed.UserID = id.UserID(uuid.New())
		res, err := s.service.EnforceEntityView(s.ctx(), authed, doctor)
		s.Require().NoError(err)
		s.True(res.Unlimited)
	})

	s.Run("the next day starts fresh", func() {
		s.now = s.now.Add(24 * time.Hour)
		res, err := s.service.EnforceEntityView(s.ctx(), clientA, doctor)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *CheckerServiceSuite) TestEnforceEntityView_Spans() {
	doctor := profile{kind: models.EntityHospital, id: "hosp-1", limit: 1}
	_, err := s.service.EnforceEntityView(s.ctx(), fromAddr("203.0.113.8:1"), doctor)
	s.Require().NoError(err)

	ended := s.spans.Ended()
	s.Require().Len(ended, 1)
	s.Equal("ratelimit.EnforceEntityView", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	s.Equal("HOSPITAL", attrs["entity.kind"])
	s.Equal("hosp-1", attrs["entity.id"])
	s.Equal("true", attrs["quota.allowed"])
}

func (s *CheckerServiceSuite) TestEnforceRate() {
	burst, ok := s.service.Scope(models.ScopeBurst)
	s.Require().True(ok)
	search, ok := s.service.Scope(models.ScopeSearch)
	s.Require().True(ok)
	req := fromAddr("203.0.113.20:9000")

	for i := range search.Limit {
		res, err := s.service.EnforceRate(s.ctx(), req, burst, search)
		s.Require().NoError(err, "request %d", i+1)
		s.Equal(models.ScopeSearch, res.Scope, "search is the tighter scope")
	}

	res, err := s.service.EnforceRate(s.ctx(), req, burst, search)
	s.Require().ErrorIs(err, models.ErrRateLimited)
	s.False(res.Allowed)

	te, ok := models.AsThrottle(err)
	s.Require().True(ok)
	s.Equal("search", te.Scope)
	s.Equal(search.Limit, te.Limit)
	s.Require().NotNil(te.RetryAfter)
	s.Positive(*te.RetryAfter)
	s.LessOrEqual(*te.RetryAfter, search.Window)

	s.Run("window reset after it ends", func() {
		s.now = s.now.Add(search.Window)
		res, err := s.service.EnforceRate(s.ctx(), req, search)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("no scopes is a bad request", func() {
		_, err := s.service.EnforceRate(s.ctx(), req)
		s.Require().Error(err)
		s.Require().Len(s.spans.Ended(), search.Limit+3)
	})

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.RateDecisions.WithLabelValues("search", "denied")))
}

func (s *CheckerServiceSuite) TestIdentity() {
	s.Run("forwarded header wins over a private hop", func() {
		req := &models.Request{
			Headers:    http.Header{"X-Forwarded-For": []string{"10.0.0.5, 203.0.113.7"}},
			RemoteAddr: "10.0.0.1:8080",
		}
		s.Equal("203.0.113.7", s.service.Identity(s.ctx(), req).Client)
	})

	s.Run("user id is carried", func() {
		user := id.UserID(uuid.New())
		req := fromAddr("203.0.113.1:1")
		req.UserID = user
		s.Equal(user, s.service.Identity(s.ctx(), req).UserID)
	})

	s.Run("unparseable address is counted", func() {
		before := promtestutil.ToFloat64(s.metrics.IdentityFallbacks)
		identity := s.service.Identity(s.ctx(), fromAddr("@garbage"))
		s.Equal("@garbage", identity.Client)
		s.Equal(before+1, promtestutil.ToFloat64(s.metrics.IdentityFallbacks))
	})
}

func TestEnforce_BackingStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := mocks.NewMockEventStore(ctrl)
	windows := mocks.NewMockWindowStore(ctrl)
	boom := errors.New("dial tcp: connection refused")

	events.EXPECT().CountFor(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(0, boom)
	windows.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(0, time.Time{}, boom)

	quotas, err := quota.New(events)
	require.NoError(t, err)
	requests, err := requestlimit.New(windows)
	require.NoError(t, err)
	svc, err := New(requests, quotas)
	require.NoError(t, err)

	req := fromAddr("203.0.113.99:1")
	_, err = svc.EnforceEntityView(context.Background(), req, profile{kind: models.EntityDoctor, id: "d", limit: 1})
	require.True(t, models.IsBackingStoreError(err))
	_, isThrottle := models.AsThrottle(err)
	require.False(t, isThrottle)

	_, err = svc.EnforceRate(context.Background(), req, models.Scope{Name: models.ScopeBurst})
	require.True(t, models.IsBackingStoreError(err))
}
