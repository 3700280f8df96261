package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

type UserRepository struct {
	BaseRepository
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO sibyl_users (
			id, email, nickname, avatar, is_admin, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		user.ID,
		user.Email,
		user.Nickname,
		nullString(user.Avatar),
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, email, nickname, avatar, is_admin, created_at, updated_at
		FROM sibyl_users
		WHERE id = $1`

	return r.scanUser(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, email, nickname, avatar, is_admin, created_at, updated_at
		FROM sibyl_users
		WHERE email = $1`

	return r.scanUser(r.conn(ctx).QueryRow(ctx, query, email))
}

func (r *UserRepository) scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var avatar sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Nickname,
		&avatar,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Avatar = getString(avatar)
	return &user, nil
}
