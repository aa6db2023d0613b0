// Package mocks holds testify mocks for the ClickHouse driver.
package mocks

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

// MockConn is a driver.Conn whose query methods record (ctx, query, args...).
type MockConn struct {
	mock.Mock
}

var _ driver.Conn = (*MockConn)(nil)

func (m *MockConn) called(ctx context.Context, query string, extra ...interface{}) mock.Arguments {
	callArgs := append([]interface{}{ctx, query}, extra...)
	return m.Called(callArgs...)
}

func (m *MockConn) Contributors() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockConn) ServerVersion() (*driver.ServerVersion, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*driver.ServerVersion), args.Error(1)
}

func (m *MockConn) Select(ctx context.Context, _ interface{}, query string, args ...interface{}) error {
	return m.called(ctx, query, args...).Error(0)
}

func (m *MockConn) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	res := m.called(ctx, query, args...)
	if res.Get(0) == nil {
		return nil, res.Error(1)
	}
	return res.Get(0).(driver.Rows), res.Error(1)
}

func (m *MockConn) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	res := m.called(ctx, query, args...)
	if res.Get(0) == nil {
		return nil
	}
	return res.Get(0).(driver.Row)
}

func (m *MockConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	return m.called(ctx, query, args...).Error(0)
}

func (m *MockConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...interface{}) error {
	return m.called(ctx, query, append([]interface{}{wait}, args...)...).Error(0)
}

func (m *MockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	extra := make([]interface{}, 0, len(opts))
	for _, opt := range opts {
		extra = append(extra, opt)
	}
	res := m.called(ctx, query, extra...)
	if res.Get(0) == nil {
		return nil, res.Error(1)
	}
	return res.Get(0).(driver.Batch), res.Error(1)
}

func (m *MockConn) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConn) Stats() driver.Stats {
	args := m.Called()
	if args.Get(0) == nil {
		return driver.Stats{}
	}
	return args.Get(0).(driver.Stats)
}

func (m *MockConn) Close() error {
	return m.Called().Error(0)
}
