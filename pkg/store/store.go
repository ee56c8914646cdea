package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for all bot entities. It is the sole
// owner of the database; other components only read and request
// mutations through this interface. Each operation is independently
// atomic; no multi-entity transaction spans a call.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Users.
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	ListAuthorizedUsers(ctx context.Context) ([]User, error)

	// Auth requests.
	CreateAuthRequest(ctx context.Context, req *AuthRequest) error
	PendingAuthRequests(ctx context.Context) ([]AuthRequest, error)
	PendingAuthRequestForUser(ctx context.Context, userID uint) (*AuthRequest, error)
	ResolveAuthRequests(ctx context.Context, userID uint, status string, processedBy int64) error

	// PC status singleton.
	PCStatus(ctx context.Context) (*PCStatus, error)
	UpdatePCStatus(ctx context.Context, online bool, ipAddress, hostname string) error
	RecordWakeAttempt(ctx context.Context) error

	// Match cache.
	AddMatch(ctx context.Context, match *Match) error
	LatestMatch(ctx context.Context) (*Match, error)
	RecentMatches(ctx context.Context, limit int) ([]Match, error)

	// Audit log.
	AddAudit(ctx context.Context, entry *AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&AuthRequest{},
		&PCStatus{},
		&Match{},
		&AuditEntry{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Users ---

func (s *store) GetUserByTelegramID(
	ctx context.Context, telegramID int64,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
		}

		return nil, fmt.Errorf("getting user by telegram id: %w", err)
	}

	return &user, nil
}

func (s *store) CreateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

func (s *store) UpdateUser(ctx context.Context, user *User) error {
	// Save with Select("*") so false booleans are written too.
	if err := s.db.WithContext(ctx).
		Model(user).
		Select("*").
		Omit("id", "created_at").
		Updates(user).Error; err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	return nil
}

func (s *store) ListAuthorizedUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Where("is_authorized = ?", true).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing authorized users: %w", err)
	}

	return users, nil
}

// --- Auth requests ---

func (s *store) CreateAuthRequest(
	ctx context.Context, req *AuthRequest,
) error {
	if req.Status == "" {
		req.Status = AuthStatusPending
	}

	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("creating auth request: %w", err)
	}

	return nil
}

func (s *store) PendingAuthRequests(
	ctx context.Context,
) ([]AuthRequest, error) {
	var reqs []AuthRequest
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("status = ?", AuthStatusPending).
		Order("requested_at ASC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("listing pending auth requests: %w", err)
	}

	return reqs, nil
}

func (s *store) PendingAuthRequestForUser(
	ctx context.Context, userID uint,
) (*AuthRequest, error) {
	var req AuthRequest
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, AuthStatusPending).
		Order("requested_at ASC").
		First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pending request for user %d: %w", userID, ErrNotFound)
		}

		return nil, fmt.Errorf("getting pending auth request: %w", err)
	}

	return &req, nil
}

// ResolveAuthRequests marks every pending request for the user with the
// given terminal status and stamps the processing admin.
func (s *store) ResolveAuthRequests(
	ctx context.Context, userID uint, status string, processedBy int64,
) error {
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).
		Model(&AuthRequest{}).
		Where("user_id = ? AND status = ?", userID, AuthStatusPending).
		Updates(map[string]any{
			"status":       status,
			"processed_at": now,
			"processed_by": processedBy,
		}).Error; err != nil {
		return fmt.Errorf("resolving auth requests: %w", err)
	}

	return nil
}

// --- PC status ---

func (s *store) PCStatus(ctx context.Context) (*PCStatus, error) {
	var status PCStatus
	if err := s.db.WithContext(ctx).First(&status).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pc status: %w", ErrNotFound)
		}

		return nil, fmt.Errorf("getting pc status: %w", err)
	}

	return &status, nil
}

// UpdatePCStatus upserts the singleton status row. Empty ipAddress or
// hostname keep the previously recorded values.
func (s *store) UpdatePCStatus(
	ctx context.Context, online bool, ipAddress, hostname string,
) error {
	var status PCStatus

	err := s.db.WithContext(ctx).First(&status).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("getting pc status: %w", err)
	}

	status.Online = online
	status.LastCheck = time.Now().UTC()

	if ipAddress != "" {
		status.IPAddress = ipAddress
	}

	if hostname != "" {
		status.Hostname = hostname
	}

	if err := s.db.WithContext(ctx).
		Select("*").
		Save(&status).Error; err != nil {
		return fmt.Errorf("saving pc status: %w", err)
	}

	return nil
}

func (s *store) RecordWakeAttempt(ctx context.Context) error {
	var status PCStatus

	err := s.db.WithContext(ctx).First(&status).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("getting pc status: %w", err)
	}

	now := time.Now().UTC()
	status.LastWakeAttempt = &now

	if status.LastCheck.IsZero() {
		status.LastCheck = now
	}

	if err := s.db.WithContext(ctx).Save(&status).Error; err != nil {
		return fmt.Errorf("recording wake attempt: %w", err)
	}

	return nil
}

// --- Match cache ---

func (s *store) AddMatch(ctx context.Context, match *Match) error {
	if err := s.db.WithContext(ctx).Create(match).Error; err != nil {
		return fmt.Errorf("adding match: %w", err)
	}

	return nil
}

func (s *store) LatestMatch(ctx context.Context) (*Match, error) {
	var match Match
	if err := s.db.WithContext(ctx).
		Order("match_id DESC").
		First(&match).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("latest match: %w", ErrNotFound)
		}

		return nil, fmt.Errorf("getting latest match: %w", err)
	}

	return &match, nil
}

func (s *store) RecentMatches(
	ctx context.Context, limit int,
) ([]Match, error) {
	var matches []Match
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}

	return matches, nil
}

// --- Audit log ---

func (s *store) AddAudit(ctx context.Context, entry *AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("adding audit entry: %w", err)
	}

	return nil
}

// RecentAudit returns up to limit entries, most recent first.
func (s *store) RecentAudit(
	ctx context.Context, limit int,
) ([]AuditEntry, error) {
	var entries []AuditEntry
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}

	return entries, nil
}
