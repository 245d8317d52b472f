// Package mocks holds gomock doubles for the ports in ports.go. They follow
// mockgen's source-mode layout; running go generate in internal/ratelimit/ports
// replaces this file with generated output.
package mocks

import (
	context "context"
	http "net/http"
	reflect "reflect"
	time "time"

	gomock "go.uber.org/mock/gomock"
	clientip "quotaguard/internal/ratelimit/clientip"
	models "quotaguard/internal/ratelimit/models"
	domain "quotaguard/pkg/domain"
	audit "quotaguard/pkg/platform/audit"
)

// MockAuditPublisher is a mock of AuditPublisher interface.
type MockAuditPublisher struct {
	ctrl     *gomock.Controller
	recorder *MockAuditPublisherMockRecorder
	isgomock struct{}
}

// MockAuditPublisherMockRecorder is the mock recorder for MockAuditPublisher.
type MockAuditPublisherMockRecorder struct {
	mock *MockAuditPublisher
}

// NewMockAuditPublisher creates a new mock instance.
func NewMockAuditPublisher(ctrl *gomock.Controller) *MockAuditPublisher {
	mock := &MockAuditPublisher{ctrl: ctrl}
	mock.recorder = &MockAuditPublisherMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockAuditPublisher) EXPECT() *MockAuditPublisherMockRecorder {
	return m.recorder
}

// Emit mocks base method.
func (m *MockAuditPublisher) Emit(ctx context.Context, event audit.Event) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Emit", ctx, event)
	ret0, _ := ret[0].(error)
	return ret0
}

// Emit indicates an expected call of Emit.
func (mr *MockAuditPublisherMockRecorder) Emit(ctx, event any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Emit", reflect.TypeOf((*MockAuditPublisher)(nil).Emit), ctx, event)
}

// MockEventStore is a mock of EventStore interface.
type MockEventStore struct {
	ctrl     *gomock.Controller
	recorder *MockEventStoreMockRecorder
	isgomock struct{}
}

// MockEventStoreMockRecorder is the mock recorder for MockEventStore.
type MockEventStoreMockRecorder struct {
	mock *MockEventStore
}

// NewMockEventStore creates a new mock instance.
func NewMockEventStore(ctrl *gomock.Controller) *MockEventStore {
	mock := &MockEventStore{ctrl: ctrl}
	mock.recorder = &MockEventStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockEventStore) EXPECT() *MockEventStoreMockRecorder {
	return m.recorder
}

// Record mocks base method.
func (m *MockEventStore) Record(ctx context.Context, event *models.AccessEvent) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Record", ctx, event)
	ret0, _ := ret[0].(error)
	return ret0
}

// Record indicates an expected call of Record.
func (mr *MockEventStoreMockRecorder) Record(ctx, event any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Record", reflect.TypeOf((*MockEventStore)(nil).Record), ctx, event)
}

// CountFor mocks base method.
func (m *MockEventStore) CountFor(ctx context.Context, kind models.EntityKind, entityID string, client string, day models.Day) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "CountFor", ctx, kind, entityID, client, day)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// CountFor indicates an expected call of CountFor.
func (mr *MockEventStoreMockRecorder) CountFor(ctx, kind, entityID, client, day any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "CountFor", reflect.TypeOf((*MockEventStore)(nil).CountFor), ctx, kind, entityID, client, day)
}

// CountForClient mocks base method.
func (m *MockEventStore) CountForClient(ctx context.Context, client string, day models.Day) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "CountForClient", ctx, client, day)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// CountForClient indicates an expected call of CountForClient.
func (mr *MockEventStoreMockRecorder) CountForClient(ctx, client, day any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "CountForClient", reflect.TypeOf((*MockEventStore)(nil).CountForClient), ctx, client, day)
}

// Aggregate mocks base method.
func (m *MockEventStore) Aggregate(ctx context.Context, kind models.EntityKind, entityID string, from models.Day, to models.Day) (*models.EventAggregate, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Aggregate", ctx, kind, entityID, from, to)
	ret0, _ := ret[0].(*models.EventAggregate)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Aggregate indicates an expected call of Aggregate.
func (mr *MockEventStoreMockRecorder) Aggregate(ctx, kind, entityID, from, to any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Aggregate", reflect.TypeOf((*MockEventStore)(nil).Aggregate), ctx, kind, entityID, from, to)
}

// DetachActor mocks base method.
func (m *MockEventStore) DetachActor(ctx context.Context, actor domain.UserID) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "DetachActor", ctx, actor)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// DetachActor indicates an expected call of DetachActor.
func (mr *MockEventStoreMockRecorder) DetachActor(ctx, actor any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DetachActor", reflect.TypeOf((*MockEventStore)(nil).DetachActor), ctx, actor)
}

// MockWindowStore is a mock of WindowStore interface.
type MockWindowStore struct {
	ctrl     *gomock.Controller
	recorder *MockWindowStoreMockRecorder
	isgomock struct{}
}

// MockWindowStoreMockRecorder is the mock recorder for MockWindowStore.
type MockWindowStoreMockRecorder struct {
	mock *MockWindowStore
}

// NewMockWindowStore creates a new mock instance.
func NewMockWindowStore(ctrl *gomock.Controller) *MockWindowStore {
	mock := &MockWindowStore{ctrl: ctrl}
	mock.recorder = &MockWindowStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockWindowStore) EXPECT() *MockWindowStoreMockRecorder {
	return m.recorder
}

// Increment mocks base method.
func (m *MockWindowStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Increment", ctx, key, window)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(time.Time)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// Increment indicates an expected call of Increment.
func (mr *MockWindowStoreMockRecorder) Increment(ctx, key, window any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Increment", reflect.TypeOf((*MockWindowStore)(nil).Increment), ctx, key, window)
}

// Count mocks base method.
func (m *MockWindowStore) Count(ctx context.Context, key string) (int, time.Time, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Count", ctx, key)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(time.Time)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// Count indicates an expected call of Count.
func (mr *MockWindowStoreMockRecorder) Count(ctx, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Count", reflect.TypeOf((*MockWindowStore)(nil).Count), ctx, key)
}

// Reset mocks base method.
func (m *MockWindowStore) Reset(ctx context.Context, key string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Reset", ctx, key)
	ret0, _ := ret[0].(error)
	return ret0
}

// Reset indicates an expected call of Reset.
func (mr *MockWindowStoreMockRecorder) Reset(ctx, key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Reset", reflect.TypeOf((*MockWindowStore)(nil).Reset), ctx, key)
}

// MockIdentityResolver is a mock of IdentityResolver interface.
type MockIdentityResolver struct {
	ctrl     *gomock.Controller
	recorder *MockIdentityResolverMockRecorder
	isgomock struct{}
}

// MockIdentityResolverMockRecorder is the mock recorder for MockIdentityResolver.
type MockIdentityResolverMockRecorder struct {
	mock *MockIdentityResolver
}

// NewMockIdentityResolver creates a new mock instance.
func NewMockIdentityResolver(ctrl *gomock.Controller) *MockIdentityResolver {
	mock := &MockIdentityResolver{ctrl: ctrl}
	mock.recorder = &MockIdentityResolverMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockIdentityResolver) EXPECT() *MockIdentityResolverMockRecorder {
	return m.recorder
}

// Resolve mocks base method.
func (m *MockIdentityResolver) Resolve(h http.Header, remoteAddr string) clientip.Resolution {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Resolve", h, remoteAddr)
	ret0, _ := ret[0].(clientip.Resolution)
	return ret0
}

// Resolve indicates an expected call of Resolve.
func (mr *MockIdentityResolverMockRecorder) Resolve(h, remoteAddr any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Resolve", reflect.TypeOf((*MockIdentityResolver)(nil).Resolve), h, remoteAddr)
}
