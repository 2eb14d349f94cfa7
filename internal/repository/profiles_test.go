package repository_test

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"drowsiness-monitor/backend/internal/models"
	"drowsiness-monitor/backend/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var profileColumns = []string{"driver_id", "ear_threshold", "window_seconds", "frame_rate_hint", "delegate", "updated_at"}

func newRepo(t *testing.T) (*repository.ProfileRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mockSQL, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return repository.NewProfileRepo(sqlx.NewDb(mockDB, "sqlmock")), mockSQL
}

func Test_ProfileRepo_Get(t *testing.T) {
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		beforeTest func(sqlmock.Sqlmock)
		want       models.Profile
		wantErr    error
	}{
		{
			name: "found",
			beforeTest: func(mockSQL sqlmock.Sqlmock) {
				mockSQL.
					ExpectQuery(regexp.QuoteMeta(`FROM driver_profiles`)).
					WithArgs("driver-7").
					WillReturnRows(sqlmock.NewRows(profileColumns).AddRow("driver-7", 0.18, 20, 25, "GPU", updated))
			},
			want: models.Profile{
				DriverID: "driver-7", EARThreshold: 0.18, WindowSeconds: 20, FrameRateHint: 25,
				Delegate: models.DelegateGPU, UpdatedAt: updated,
			},
		},
		{
			name: "missing",
			beforeTest: func(mockSQL sqlmock.Sqlmock) {
				mockSQL.
					ExpectQuery(regexp.QuoteMeta(`FROM driver_profiles`)).
					WithArgs("driver-7").
					WillReturnRows(sqlmock.NewRows(profileColumns))
			},
			wantErr: repository.ErrProfileNotFound,
		},
		{
			name: "db failure",
			beforeTest: func(mockSQL sqlmock.Sqlmock) {
				mockSQL.
					ExpectQuery(regexp.QuoteMeta(`FROM driver_profiles`)).
					WithArgs("driver-7").
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: errors.New("any"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mockSQL := newRepo(t)
			tt.beforeTest(mockSQL)

			got, err := repo.Get(context.Background(), "driver-7")
			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr != nil && err == nil:
				t.Fatal("expected an error")
			case errors.Is(tt.wantErr, repository.ErrProfileNotFound) && !errors.Is(err, repository.ErrProfileNotFound):
				t.Fatalf("got %v, want ErrProfileNotFound", err)
			}
			if tt.wantErr == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if err := mockSQL.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func Test_ProfileRepo_Upsert(t *testing.T) {
	repo, mockSQL := newRepo(t)
	updated := time.Now().UTC()

	mockSQL.
		ExpectQuery(regexp.QuoteMeta(`INSERT INTO driver_profiles`)).
		WithArgs("driver-1", 0.22, 30, 30, "CPU").
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow("driver-1", 0.22, 30, 30, "CPU", updated))

	got, err := repo.Upsert(context.Background(), models.Profile{
		DriverID: "driver-1", EARThreshold: 0.22, WindowSeconds: 30, FrameRateHint: 30, Delegate: models.DelegateCPU,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.DriverID != "driver-1" || !got.UpdatedAt.Equal(updated) {
		t.Errorf("unexpected stored profile %+v", got)
	}
	if err := mockSQL.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func Test_ProfileRepo_List(t *testing.T) {
	repo, mockSQL := newRepo(t)
	now := time.Now()

	mockSQL.
		ExpectQuery(regexp.QuoteMeta(`ORDER BY driver_id`)).
		WillReturnRows(sqlmock.NewRows(profileColumns).
			AddRow("a", 0.2, 30, 30, "CPU", now).
			AddRow("b", 0.25, 10, 15, "GPU", now))

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "a" || got[1].Delegate != models.DelegateGPU {
		t.Errorf("unexpected profiles %+v", got)
	}
}

func Test_ProfileRepo_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "deleted", affected: 1},
		{name: "missing", affected: 0, wantErr: repository.ErrProfileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mockSQL := newRepo(t)
			mockSQL.
				ExpectExec(regexp.QuoteMeta(`DELETE FROM driver_profiles WHERE driver_id = $1`)).
				WithArgs("x").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.Delete(context.Background(), "x")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
