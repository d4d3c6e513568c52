package storage

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginIdempotencyOutcomes(t *testing.T) {
	scope := IdempotencyScope{CompanyID: "acme", Principal: "ops@acme.test", Endpoint: "POST:/v1/actions/execute", Key: "k1"}
	code := 201
	cols := []string{"inserted", "request_hash", "status", "status_code", "response_data"}

	tests := []struct {
		name    string
		row     []any
		want    IdempotencyLookup
		wantErr error
	}{
		{
			name: "fresh reservation",
			row:  []any{true, "h1", "in_progress", (*int)(nil), []byte(nil)},
		},
		{
			name:    "other payload",
			row:     []any{false, "h0", "completed", &code, []byte(`{}`)},
			wantErr: ErrIdempotencyPayloadMismatch,
		},
		{
			name:    "still running",
			row:     []any{false, "h1", "in_progress", (*int)(nil), []byte(nil)},
			wantErr: ErrIdempotencyInProgress,
		},
		{
			name: "replay",
			row:  []any{false, "h1", "completed", &code, []byte(`{"activity_id":7}`)},
			want: IdempotencyLookup{Completed: true, StatusCode: 201, ResponseData: []byte(`{"activity_id":7}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery("INSERT INTO idempotency_keys").
				WithArgs("acme", "ops@acme.test", "POST:/v1/actions/execute", "k1", "h1").
				WillReturnRows(pgxmock.NewRows(cols).AddRow(tt.row...))

			got, err := db.BeginIdempotency(context.Background(), scope, "h1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompleteIdempotencyWithoutReservation(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE idempotency_keys").
		WithArgs("acme", "ops", "POST:/v1/chat", "k", 200, `{"ok":true}`, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := db.CompleteIdempotency(context.Background(),
		IdempotencyScope{CompanyID: "acme", Principal: "ops", Endpoint: "POST:/v1/chat", Key: "k"},
		200, map[string]bool{"ok": true})
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
