package postgres

import (
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

func TestUserRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &UserRepository{
		BaseRepository: BaseRepository{pool: nil},
	}

	user := models.NewUser("usr_1", "ada@example.com", "ada")

	mock.ExpectExec("INSERT INTO sibyl_users").
		WithArgs(user.ID, user.Email, user.Nickname, sql.NullString{}, false,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := setupMockContext(mock)
	err = repo.Create(ctx, user)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &UserRepository{
		BaseRepository: BaseRepository{pool: nil},
	}

	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "email", "nickname", "avatar", "is_admin", "created_at", "updated_at",
	}).
		AddRow("usr_1", "ada@example.com", "ada",
			sql.NullString{String: "https://example.com/a.png", Valid: true}, true, now, now)

	mock.ExpectQuery("SELECT (.+) FROM sibyl_users").
		WithArgs("usr_1").
		WillReturnRows(rows)

	ctx := setupMockContext(mock)
	user, err := repo.GetByID(ctx, "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.Email != "ada@example.com" {
		t.Errorf("unexpected email: %s", user.Email)
	}
	if !user.IsAdmin {
		t.Error("expected admin user")
	}
	if user.RetrievalPermission() != models.PermissionAdminOnly {
		t.Errorf("expected admin retrieval permission, got %d", user.RetrievalPermission())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &UserRepository{
		BaseRepository: BaseRepository{pool: nil},
	}

	mock.ExpectQuery("SELECT (.+) FROM sibyl_users").
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	ctx := setupMockContext(mock)
	_, err = repo.GetByID(ctx, "nonexistent")
	if err != pgx.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &UserRepository{
		BaseRepository: BaseRepository{pool: nil},
	}

	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "email", "nickname", "avatar", "is_admin", "created_at", "updated_at",
	}).
		AddRow("usr_1", "ada@example.com", "ada", sql.NullString{}, false, now, now)

	mock.ExpectQuery("SELECT (.+) FROM sibyl_users").
		WithArgs("ada@example.com").
		WillReturnRows(rows)

	ctx := setupMockContext(mock)
	user, err := repo.GetByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.ID != "usr_1" {
		t.Errorf("unexpected id: %s", user.ID)
	}
	if user.Avatar != "" {
		t.Errorf("expected empty avatar, got %s", user.Avatar)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
