package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/mail"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-supplies/storefront/internal/auth"
	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/models"
)

// UserService handles accounts, login and the wholesale approval workflow.
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
	}
}

const userColumns = "id, email, name, password_hash, role, status, company_name, tax_id, wholesale_requested, created_at"

func scanUser(row interface{ Scan(...interface{}) error }, u *models.User) error {
	return row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Status,
		&u.CompanyName, &u.TaxID, &u.WholesaleRequested, &u.CreatedAt,
	)
}

// Register creates a new account. Wholesale applicants start PENDING with the
// request flag set; everyone else starts as an ACTIVE customer.
func (s *UserService) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(req.Password) < auth.MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, auth.MinPasswordLength)
	}

	if _, err := s.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	status := models.UserStatusActive
	if req.WholesaleRequested {
		status = models.UserStatusPending
	}

	start := time.Now()
	query := "INSERT INTO users (email, name, password_hash, role, status, company_name, tax_id, wholesale_requested) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query,
		req.Email, req.Name, hash, models.RoleCustomer, status,
		req.CompanyName, req.TaxID, req.WholesaleRequested,
	)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	s.metrics.UsersRegistered.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Bool("wholesale_requested", req.WholesaleRequested),
	})...))
	log.Printf("[USER] Registered: id=%d email=%s wholesale_requested=%t", id, req.Email, req.WholesaleRequested)

	return &models.User{
		ID:                 id,
		Email:              req.Email,
		Name:               req.Name,
		Role:               models.RoleCustomer,
		Status:             status,
		CompanyName:        req.CompanyName,
		TaxID:              req.TaxID,
		WholesaleRequested: req.WholesaleRequested,
		CreatedAt:          time.Now(),
	}, nil
}

// Authenticate verifies credentials and returns the user. INACTIVE and
// REJECTED accounts can still log in; role gates keep them out of anything
// that matters.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", ErrNotFound)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrNotFound)
	}
	return user, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"
	var user models.User
	err := scanUser(s.db.QueryRowContext(ctx, query, id), &user)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail returns a user by email
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users WHERE email = ?"
	var user models.User
	err := scanUser(s.db.QueryRowContext(ctx, query, email), &user)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("email %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users, newest first. Admin only.
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	start := time.Now()
	query := "SELECT " + userColumns + " FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser applies an admin edit to role and status.
func (s *UserService) UpdateUser(ctx context.Context, id int64, role, status string) error {
	switch role {
	case models.RoleCustomer, models.RoleWholesale, models.RoleWarehouse, models.RoleAdmin:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	switch status {
	case models.UserStatusPending, models.UserStatusActive, models.UserStatusInactive, models.UserStatusRejected:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	start := time.Now()
	query := "UPDATE users SET role = ?, status = ? WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, role, status, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteUser removes an account. Admin only.
func (s *UserService) DeleteUser(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM users WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "users", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// ApproveWholesale upgrades a pending wholesale applicant: role becomes
// WHOLESALE, status ACTIVE, and the request flag is cleared. Only users with
// a pending application qualify.
func (s *UserService) ApproveWholesale(ctx context.Context, id int64) error {
	return s.decideWholesale(ctx, id, true)
}

// RejectWholesale declines a pending wholesale applicant: status becomes
// REJECTED and the request flag is cleared. The role is left untouched.
// There is no re-application path.
func (s *UserService) RejectWholesale(ctx context.Context, id int64) error {
	return s.decideWholesale(ctx, id, false)
}

func (s *UserService) decideWholesale(ctx context.Context, id int64, approve bool) error {
	var query, decision string
	if approve {
		query = "UPDATE users SET role = 'WHOLESALE', status = 'ACTIVE', wholesale_requested = FALSE WHERE id = ? AND status = 'PENDING' AND wholesale_requested = TRUE"
		decision = "approved"
	} else {
		query = "UPDATE users SET status = 'REJECTED', wholesale_requested = FALSE WHERE id = ? AND status = 'PENDING' AND wholesale_requested = TRUE"
		decision = "rejected"
	}

	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to decide wholesale application: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the user does not exist or there is nothing pending to
		// decide; both are caller errors, not server state.
		return fmt.Errorf("user %d: %w", id, ErrNotPendingReview)
	}

	s.metrics.WholesaleReviews.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("decision", decision),
	})...))
	log.Printf("[USER] Wholesale application %s: user_id=%d", decision, id)
	return nil
}
