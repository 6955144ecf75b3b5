/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reservation

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

var errDatabaseDown = errors.New("database down")

type call struct {
	sql  string
	args []any
}

type fakeExecutor struct {
	calls    []call
	rows     [][]any
	queryErr error
	execErr  error
}

func (f *fakeExecutor) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql: sql, args: args})

	return pgconn.NewCommandTag("CALL"), f.execErr
}

func (f *fakeExecutor) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, call{sql: sql, args: args})

	if f.queryErr != nil {
		return nil, f.queryErr
	}

	return &fakeRows{rows: f.rows, idx: -1}, nil
}

type fakeRows struct {
	rows   [][]any
	idx    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++

	return r.idx < len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}

	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		value := reflect.ValueOf(row[i])

		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: column %d is %s, destination is %s", i, value.Type(), target.Type())
		}

		target.Set(value)
	}

	return nil
}

func text(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func TestReserve(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{rows: [][]any{
		{"ABC123", netip.MustParseAddr("10.0.0.5"), 3240, text("1-2"), 8080},
		{"DEF456", netip.MustParseAddr("10.0.0.6"), 3240, pgtype.Text{}, 8080},
	}}
	s := NewStore(db, logger.NewTestLogger())

	got, err := s.Reserve(context.Background(), 2, "", "client-a")
	require.NoError(t, err)

	assert.Equal(t, []models.Reservation{
		{Serial: "ABC123", WorkerIP: "10.0.0.5", WorkerPort: 8080, ExportPort: 3240, Bus: "1-2"},
		{Serial: "DEF456", WorkerIP: "10.0.0.6", WorkerPort: 8080, ExportPort: 3240},
	}, got)

	require.Len(t, db.calls, 1)
	assert.Equal(t, makeReservationsSQL, db.calls[0].sql)
	assert.Equal(t, []any{2, "", "client-a"}, db.calls[0].args)
}

func TestReserveRejectsEmptyAmount(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{}
	s := NewStore(db, logger.NewTestLogger())

	_, err := s.Reserve(context.Background(), 0, "", "client-a")
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Empty(t, db.calls)
}

func TestEndKeepsOwnerlessRows(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{rows: [][]any{
		{"ABC123", text("client-a"), netip.MustParseAddr("10.0.0.5"), 8080},
		{"DEF456", pgtype.Text{}, netip.MustParseAddr("10.0.0.6"), 8081},
	}}
	s := NewStore(db, logger.NewTestLogger())

	got, err := s.End(context.Background(), "client-a", []string{"ABC123", "DEF456"})
	require.NoError(t, err)

	assert.Equal(t, []models.EndedReservation{
		{Serial: "ABC123", ClientID: "client-a", WorkerIP: "10.0.0.5", WorkerPort: 8080},
		{Serial: "DEF456", WorkerIP: "10.0.0.6", WorkerPort: 8081},
	}, got)
	assert.Equal(t, []any{"client-a", []string{"ABC123", "DEF456"}}, db.calls[0].args)
}

func TestTimeoutQueriesConvertUnits(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{rows: [][]any{{"worker-1", text("client-a"), "ABC123"}}}
	s := NewStore(db, logger.NewTestLogger())

	got, err := s.WorkerTimeouts(context.Background(), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []models.OwnedDevice{{Serial: "ABC123", ClientID: "client-a"}}, got)
	assert.Equal(t, []any{90}, db.calls[0].args)

	db.rows = [][]any{{text("client-b"), "DEF456"}}

	soon, err := s.ReservationsEndingSoon(context.Background(), 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []models.OwnedDevice{{Serial: "DEF456", ClientID: "client-b"}}, soon)
	assert.Equal(t, handleReservationTimeoutsSQL, db.calls[1].sql)
	assert.Equal(t, []any{20}, db.calls[1].args)
}

func TestListWorkers(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{rows: [][]any{{"worker-1", netip.MustParseAddr("10.0.0.5"), 8080}}}
	s := NewStore(db, logger.NewTestLogger())

	got, err := s.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Worker{{Name: "worker-1", IP: "10.0.0.5", Port: 8080}}, got)
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{queryErr: errDatabaseDown, execErr: errDatabaseDown}
	s := NewStore(db, logger.NewTestLogger())
	ctx := context.Background()

	_, err := s.ExtendAll(ctx, "client-a")
	require.ErrorIs(t, err, ErrFailedToQuery)
	require.ErrorIs(t, err, errDatabaseDown)

	err = s.UpdateDeviceStatus(ctx, "ABC123", models.DeviceStatusReserved)
	require.ErrorIs(t, err, ErrFailedToExec)
	require.ErrorIs(t, err, errDatabaseDown)
}

func TestScanMismatchIsReported(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{rows: [][]any{{"ABC123", "not-an-ip", 8080}}}
	s := NewStore(db, logger.NewTestLogger())

	_, err := s.ListWorkers(context.Background())
	require.ErrorIs(t, err, ErrFailedToScan)
}

func TestWorkerRegistration(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{}
	s := NewStore(db, logger.NewTestLogger())
	ctx := context.Background()

	require.NoError(t, s.AddWorker(ctx, models.Worker{Name: "worker-1", IP: "10.0.0.5", Port: 8080}))
	require.NoError(t, s.AddDevice(ctx, "ABC123", "worker-1"))

	require.Len(t, db.calls, 2)
	assert.Equal(t, addWorkerSQL, db.calls[0].sql)
	assert.Equal(t, []any{"worker-1", netip.MustParseAddr("10.0.0.5"), 8080}, db.calls[0].args)
	assert.Equal(t, []any{"ABC123", "worker-1"}, db.calls[1].args)

	err := s.AddWorker(ctx, models.Worker{Name: "worker-2", IP: "nowhere"})
	require.Error(t, err)
	assert.Len(t, db.calls, 2)
}

func TestRemoveWorkerReturnsReservedDevices(t *testing.T) {
	t.Parallel()

	db := &fakeExecutor{rows: [][]any{{text("client-a"), "ABC123"}}}
	s := NewStore(db, logger.NewTestLogger())

	got, err := s.RemoveWorker(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, []models.OwnedDevice{{Serial: "ABC123", ClientID: "client-a"}}, got)
}
