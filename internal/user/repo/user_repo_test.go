package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user/entity"
)

var userColumns = []string{"id", "email", "secret", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := NewUserRepo(sqlx.NewDb(db, "postgres"))
	r.newID = func() string { return "1001" }
	return r, mock
}

func TestUserRepo_Create(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+users\s*\(id,\s*email,\s*secret\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING`).
		WithArgs("1001", "a@b.com", "$2a$10$secret").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("1001", "a@b.com", "$2a$10$secret", now, now))

	u, err := r.Create(context.Background(), "a@b.com", "$2a$10$secret")
	require.NoError(t, err)
	assert.Equal(t, "1001", u.ID)
	assert.Equal(t, "a@b.com", u.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_Duplicate(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	_, err := r.Create(context.Background(), "a@b.com", "secret")
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_OtherFault(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO users`).WillReturnError(errors.New("db down"))

	_, err := r.Create(context.Background(), "a@b.com", "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_GetByEmail(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, secret, created_at, updated_at FROM users WHERE email=$1`)).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("1001", "a@b.com", "s", now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email=$1`)).
		WithArgs("A@b.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	u, err := r.GetByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "s", u.Secret)

	_, err = r.GetByEmail(context.Background(), "A@b.com")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID_InvalidID(t *testing.T) {
	r, mock := newRepoWithMock(t)

	for _, id := range []string{"", "abc", "65f0c0ffee", "-1"} {
		_, err := r.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_List(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM users ORDER BY created_at, id`).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("1001", "a@b.com", "s1", now, now).
			AddRow("1002", "c@d.com", "s2", now, now))

	users, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "c@d.com", users[1].Email)
}

func TestUserRepo_Update(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	email := "new@b.com"
	secret := "new-secret"

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET updated_at=NOW(), email=$2, secret=$3 WHERE id=$1 RETURNING`)).
		WithArgs("1001", email, secret).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("1001", email, secret, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET updated_at=NOW(), email=$2 WHERE id=$1`)).
		WithArgs("1002", email).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET updated_at=NOW(), secret=$2 WHERE id=$1`)).
		WithArgs("1003", secret).
		WillReturnRows(sqlmock.NewRows(userColumns))

	u, err := r.Update(context.Background(), "1001", entity.Changes{Email: &email, Secret: &secret})
	require.NoError(t, err)
	assert.Equal(t, email, u.Email)

	_, err = r.Update(context.Background(), "1002", entity.Changes{Email: &email})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = r.Update(context.Background(), "1003", entity.Changes{Secret: &secret})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Delete(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM users WHERE id=$1 RETURNING`)).
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("1001", "a@b.com", "s", now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM users WHERE id=$1 RETURNING`)).
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows(userColumns))

	u, err := r.Delete(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", u.Email)

	_, err = r.Delete(context.Background(), "1001")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
