package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/giftme/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

const pgUniqueViolation = "23505"

const userColumns = `id, telegram_id, username, first_name, last_name, language_code, contacts, refresh_token, created_at, updated_at`

// UserRepo is the user directory: telegram_id <-> internal id, plus the
// single refresh token slot.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}

// Create inserts a user. If the telegram_id already exists (a concurrent
// request won the race) the existing row is returned instead.
func (r *UserRepo) Create(ctx context.Context, in models.CreateUserInput) (*models.User, error) {
	u, err := insertUser(ctx, r.pool, in)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	return r.GetByTelegramID(ctx, in.TelegramID)
}

// CreateWithRefreshToken creates (or finds) the user and stores the refresh
// token returned by issue in one transaction, so a user row never exists
// without the token it was provisioned with.
func (r *UserRepo) CreateWithRefreshToken(ctx context.Context, in models.CreateUserInput, issue func(userID int64) (string, error)) (*models.User, error) {
	var user *models.User
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		u, err := insertUser(ctx, tx, in)
		if err != nil {
			return err
		}
		if u == nil {
			u, err = scanUser(tx.QueryRow(ctx,
				`SELECT `+userColumns+` FROM users WHERE telegram_id = $1 FOR UPDATE`, in.TelegramID))
			if err != nil {
				return err
			}
		}

		token, err := issue(u.ID)
		if err != nil {
			return err
		}
		if err := setRefreshToken(ctx, tx, u.ID, token); err != nil {
			return err
		}
		u.RefreshToken = &token
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}
	return user, nil
}

// SetRefreshToken overwrites the stored refresh token.
func (r *UserRepo) SetRefreshToken(ctx context.Context, id int64, token string) error {
	return setRefreshToken(ctx, r.pool, id, token)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertUser returns (nil, nil) when the telegram_id is already taken.
func insertUser(ctx context.Context, q querier, in models.CreateUserInput) (*models.User, error) {
	p := in.Profile
	row := q.QueryRow(ctx, `
		INSERT INTO users (telegram_id, username, first_name, last_name, language_code, contacts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (telegram_id) DO NOTHING
		RETURNING `+userColumns,
		in.TelegramID, in.Username, p.FirstName, p.LastName, p.LanguageCode, p.Contacts,
	)
	u, err := scanUser(row)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, ErrUserNotFound), isUniqueViolation(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("insert user: %w", err)
	}
}

func setRefreshToken(ctx context.Context, q querier, id int64, token string) error {
	tag, err := q.Exec(ctx, `UPDATE users SET refresh_token = $1, updated_at = now() WHERE id = $2`, token, id)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Username,
		&u.Profile.FirstName, &u.Profile.LastName, &u.Profile.LanguageCode, &u.Profile.Contacts,
		&u.RefreshToken, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
