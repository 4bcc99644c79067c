package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

const userColumns = "id, email, username, password_hash, avatar, verified, volume, language, created_at, updated_at"

type UserRepo struct {
	db     *sql.DB
	driver string
}

func NewUserRepository(db *sql.DB, driver string) *UserRepo {
	return &UserRepo{db: db, driver: driver}
}

func (r *UserRepo) CreateUser(ctx context.Context, u *domain.User) error {
	query := rebind(r.driver, "INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, query,
		u.ID.Hex(), u.Email, u.Username, u.PasswordHash, nullString(u.Avatar),
		u.Verified, u.Volume, u.Language, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueViolation(err)
		}
		return fmt.Errorf("postgres: create user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	if id.IsZero() {
		return nil, domain.ErrInvalidID
	}
	return r.getOne(ctx, "id = ?", id.Hex())
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, "username = ?", strings.TrimSpace(username))
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := rebind(r.driver, "SELECT "+userColumns+" FROM users WHERE "+where)
	exec := GetExecutor(ctx, r.db)
	u, err := scanUser(exec.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*domain.User, error) {
	out := make(map[primitive.ObjectID]*domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.Hex()
	}
	users, err := r.list(ctx, "id IN ("+placeholders(len(ids))+")", args)
	if err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (r *UserRepo) GetUsersByUsernames(ctx context.Context, usernames []string) ([]domain.User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	args := make([]any, len(usernames))
	for i, name := range usernames {
		args[i] = strings.TrimSpace(name)
	}
	return r.list(ctx, "username IN ("+placeholders(len(usernames))+")", args)
}

func (r *UserRepo) list(ctx context.Context, where string, args []any) ([]domain.User, error) {
	query := rebind(r.driver, "SELECT "+userColumns+" FROM users WHERE "+where)
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepo) UpdateUser(ctx context.Context, u *domain.User) error {
	query := rebind(r.driver, `UPDATE users
		SET email = ?, username = ?, password_hash = ?, avatar = ?, verified = ?, volume = ?, language = ?, updated_at = ?
		WHERE id = ?`)
	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, query,
		u.Email, u.Username, u.PasswordHash, nullString(u.Avatar), u.Verified, u.Volume, u.Language, u.UpdatedAt,
		u.ID.Hex(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueViolation(err)
		}
		return fmt.Errorf("postgres: update user: %w", err)
	}
	return expectOneRow(res)
}

func (r *UserRepo) MarkVerified(ctx context.Context, id primitive.ObjectID) error {
	query := rebind(r.driver, "UPDATE users SET verified = ?, updated_at = ? WHERE id = ?")
	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, query, true, time.Now().UTC(), id.Hex())
	if err != nil {
		return fmt.Errorf("postgres: verify user: %w", err)
	}
	return expectOneRow(res)
}

func (r *UserRepo) DeleteUser(ctx context.Context, id primitive.ObjectID) error {
	query := rebind(r.driver, "DELETE FROM users WHERE id = ?")
	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, query, id.Hex())
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u      domain.User
		id     string
		avatar sql.NullString
	)
	err := row.Scan(&id, &u.Email, &u.Username, &u.PasswordHash, &avatar,
		&u.Verified, &u.Volume, &u.Language, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if u.ID, err = primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	if avatar.Valid {
		u.Avatar = &avatar.String
	}
	return &u, nil
}

func expectOneRow(res sql.Result) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// uniqueViolation names the column that collided. Both drivers mention it in the message.
func uniqueViolation(err error) error {
	if strings.Contains(err.Error(), "email") {
		return domain.ErrEmailTaken
	}
	return domain.ErrUsernameTaken
}
