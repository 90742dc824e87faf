package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/userlink/internal/domain"
)

// Clock supplies the current time for soft-delete stamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// IDGenerator produces collision-resistant user ids.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string { return f() }

// Option configures a UserRepository.
type Option func(*UserRepository)

// WithClock sets the clock used for deleted_at stamps.
func WithClock(c Clock) Option {
	return func(r *UserRepository) { r.clock = c }
}

// WithIDGenerator sets the generator for new user ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *UserRepository) { r.ids = g }
}

// WithHydration replaces the row mapper.
func WithHydration(h *UserHydration) Option {
	return func(r *UserRepository) { r.hydration = h }
}

// LinkRecord is a persisted user_identifiers row.
type LinkRecord struct {
	UserID       string         `json:"user_id"`
	Provider     string         `json:"provider"`
	IdentifierID string         `json:"identifier_id"`
	RawData      map[string]any `json:"raw_data"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

const selectUser = `SELECT id, email, display_name, additional_data, system_id, verified_at FROM users`

// UserRepository handles user and identifier link persistence.
//
// Statements run against the pool unless the repository was obtained from
// BeginTx, in which case they run inside that transaction. Multi-statement
// operations (Create, Save, Update) are not wrapped automatically; callers
// needing atomicity must use a transaction.
type UserRepository struct {
	db        *sqlx.DB
	q         sqlx.ExtContext
	tx        *sqlx.Tx
	hydration *UserHydration
	clock     Clock
	ids       IDGenerator
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB, opts ...Option) *UserRepository {
	r := &UserRepository{
		db:        db,
		q:         db,
		hydration: NewUserHydration(),
		clock:     ClockFunc(func() time.Time { return time.Now().UTC() }),
		ids:       IDGeneratorFunc(uuid.NewString),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BeginTx starts a transaction and returns a repository bound to it.
func (r *UserRepository) BeginTx(ctx context.Context) (*UserRepository, error) {
	if r.tx != nil {
		return nil, errors.New("begin transaction: transaction already in progress")
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	bound := *r
	bound.q = tx
	bound.tx = tx
	return &bound, nil
}

// Commit commits the bound transaction.
func (r *UserRepository) Commit() error {
	if r.tx == nil {
		return domain.ErrNoTransaction
	}
	return r.tx.Commit()
}

// Rollback aborts the bound transaction.
func (r *UserRepository) Rollback() error {
	if r.tx == nil {
		return domain.ErrNoTransaction
	}
	return r.tx.Rollback()
}

// WithinTransaction runs fn against a transaction-bound repository,
// committing if fn returns nil and rolling back otherwise.
func (r *UserRepository) WithinTransaction(ctx context.Context, fn func(tx *UserRepository) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rollback transaction", "error", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EmailExists reports whether any user has email.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(`SELECT COUNT(*) FROM users WHERE email = ?`), email)
	if err != nil {
		return false, fmt.Errorf("check email %q: %w", email, err)
	}
	return n > 0, nil
}

// FindUserByID returns the user with id, or nil if there is none.
func (r *UserRepository) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findUser(ctx, selectUser+` WHERE id = ?`, id)
}

// FindUserByEmail returns the user with email, or nil if there is none.
func (r *UserRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findUser(ctx, selectUser+` WHERE email = ?`, email)
}

// FindUserByIdentity returns the user holding an active link to
// provider/externalID, or nil if there is none.
func (r *UserRepository) FindUserByIdentity(ctx context.Context, provider, externalID string) (*domain.User, error) {
	return r.findUser(ctx,
		`SELECT u.id, u.email, u.display_name, u.additional_data, u.system_id, u.verified_at
		 FROM users u
		 JOIN user_identifiers ui ON ui.user_id = u.id
		 WHERE ui.provider = ? AND ui.identifier_id = ? AND ui.deleted_at IS NULL
		 LIMIT 1`, provider, externalID)
}

func (r *UserRepository) findUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	row := Row{}
	err := r.q.QueryRowxContext(ctx, r.q.Rebind(query), args...).MapScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	userID, _ := asString(row[ColumnID])
	links, err := r.activeLinks(ctx, userID)
	if err != nil {
		return nil, err
	}
	row[ColumnIdentifiers] = links

	return r.hydration.Hydrate(row), nil
}

func (r *UserRepository) activeLinks(ctx context.Context, userID string) ([]Row, error) {
	rows, err := r.q.QueryxContext(ctx, r.q.Rebind(
		`SELECT provider, identifier_id, raw_data
		 FROM user_identifiers
		 WHERE user_id = ? AND deleted_at IS NULL
		 ORDER BY provider`), userID)
	if err != nil {
		return nil, fmt.Errorf("load identifiers for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row := Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan identifier for user %s: %w", userID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers for user %s: %w", userID, err)
	}
	return out, nil
}

// ListIdentifiers returns the persisted links of a user, optionally
// including soft-deleted ones.
func (r *UserRepository) ListIdentifiers(ctx context.Context, userID string, includeDeleted bool) ([]LinkRecord, error) {
	query := `SELECT user_id, provider, identifier_id, raw_data, deleted_at FROM user_identifiers WHERE user_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY provider, identifier_id`

	rows, err := r.q.QueryxContext(ctx, r.q.Rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("list identifiers for user %s: %w", userID, err)
	}
	defer rows.Close()

	out := []LinkRecord{}
	for rows.Next() {
		row := Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan identifier for user %s: %w", userID, err)
		}
		rec := LinkRecord{RawData: asDocument(row[ColumnRawData])}
		rec.UserID, _ = asString(row[ColumnUserID])
		rec.Provider, _ = asString(row[ColumnProvider])
		rec.IdentifierID, _ = asString(row[ColumnIdentifierID])
		if t, ok := ParseTimestamp(row[ColumnDeletedAt]); ok {
			rec.DeletedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers for user %s: %w", userID, err)
	}
	return out, nil
}

// Create inserts a user from a registration and returns the new id.
func (r *UserRepository) Create(ctx context.Context, rc *domain.RegistrationContext) (string, error) {
	id := r.ids.NewID()
	data := rc.ToMap()
	additional, _ := data[domain.RegistrationAdditionalData].(map[string]any)

	_, err := r.q.ExecContext(ctx, r.q.Rebind(
		`INSERT INTO users (id, email, additional_data) VALUES (?, ?, ?)`),
		id, data[domain.RegistrationEmail], StructuredPayload(additional))
	if err != nil {
		return "", createError(err)
	}
	return id, nil
}

// Save inserts user with a freshly generated id, assigns that id to user,
// then persists the remaining fields and identifiers through Update.
func (r *UserRepository) Save(ctx context.Context, user *domain.User) (bool, error) {
	id := r.ids.NewID()
	_, err := r.q.ExecContext(ctx, r.q.Rebind(
		`INSERT INTO users (id, email, display_name) VALUES (?, ?, ?)`),
		id, user.Email, user.DisplayName)
	if err != nil {
		return false, createError(err)
	}
	user.ID = id
	return r.Update(ctx, user)
}

// Update writes the scalar fields of user and reconciles its identifier
// links. It reports false, without touching links, when no row matched
// user.ID.
//
// Links missing from user.Identifiers are soft-deleted; present ones are
// restored, refreshed or inserted. Repeating Update with the same set
// produces no new rows.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) (bool, error) {
	res, err := sqlx.NamedExecContext(ctx, r.q,
		`UPDATE users
		 SET email = :email,
		     display_name = :display_name,
		     additional_data = :additional_data,
		     system_id = :system_id,
		     verified_at = :verified_at
		 WHERE id = :id`,
		map[string]any(r.hydration.Dehydrate(user)))
	if err != nil {
		return false, updateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, updateError(err)
	}
	if n == 0 {
		return false, nil
	}

	if err := r.reconcileIdentifiers(ctx, user); err != nil {
		return false, updateError(err)
	}
	return true, nil
}

type linkStateRow struct {
	Provider     string `db:"provider"`
	IdentifierID string `db:"identifier_id"`
	Deleted      bool   `db:"deleted"`
}

func (r *UserRepository) reconcileIdentifiers(ctx context.Context, user *domain.User) error {
	var rows []linkStateRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(
		`SELECT provider, identifier_id, deleted_at IS NOT NULL AS deleted
		 FROM user_identifiers WHERE user_id = ?`), user.ID)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}

	existing := make([]LinkState, 0, len(rows))
	for _, row := range rows {
		existing = append(existing, LinkState{
			LinkKey: LinkKey{Provider: row.Provider, IdentifierID: row.IdentifierID},
			Deleted: row.Deleted,
		})
	}

	plan := Reconcile(existing, user.Identifiers.All())
	if plan.Empty() {
		return nil
	}

	now := FormatTimestamp(r.clock.Now())
	for _, key := range plan.SoftDelete {
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(
			`UPDATE user_identifiers SET deleted_at = ?
			 WHERE user_id = ? AND provider = ? AND identifier_id = ? AND deleted_at IS NULL`),
			now, user.ID, key.Provider, key.IdentifierID); err != nil {
			return fmt.Errorf("soft delete link %s:%s: %w", key.Provider, key.IdentifierID, err)
		}
	}
	for _, id := range plan.Restore {
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(
			`UPDATE user_identifiers SET deleted_at = NULL, raw_data = ?
			 WHERE user_id = ? AND provider = ? AND identifier_id = ?`),
			id.JSONData(), user.ID, id.Provider(), id.ID()); err != nil {
			return fmt.Errorf("restore link %s: %w", id, err)
		}
	}
	for _, id := range plan.Refresh {
		if _, err := r.q.ExecContext(ctx, r.q.Rebind(
			`UPDATE user_identifiers SET raw_data = ?
			 WHERE user_id = ? AND provider = ? AND identifier_id = ? AND deleted_at IS NULL`),
			id.JSONData(), user.ID, id.Provider(), id.ID()); err != nil {
			return fmt.Errorf("refresh link %s: %w", id, err)
		}
	}
	for _, id := range plan.Insert {
		if _, err := sqlx.NamedExecContext(ctx, r.q,
			`INSERT INTO user_identifiers (user_id, provider, identifier_id, raw_data, deleted_at)
			 VALUES (:user_id, :provider, :identifier_id, :raw_data, NULL)`,
			map[string]any(r.hydration.DehydrateIdentifier(user.ID, id))); err != nil {
			return fmt.Errorf("insert link %s: %w", id, err)
		}
	}
	return nil
}

func createError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w: %w", domain.ErrCreateUser, domain.ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrCreateUser, err)
}

func updateError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w: %w", domain.ErrUpdateUser, domain.ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUpdateUser, err)
}
