package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"bloodhub/pkg/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 52117311

const systemStateID = 1

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &RequestModel{}, &InventoryUnitModel{}, &SystemStateModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&SystemStateModel{ID: systemStateID, UpdatedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("seed system state: %w", err)
		}
		// Keep the counter ahead of any request rows imported out of band.
		if err := tx.Exec(`
			UPDATE system_state_models
			SET request_counter = GREATEST(request_counter, COALESCE((SELECT MAX(id) FROM request_models), 0))
			WHERE id = ?
		`, systemStateID).Error; err != nil {
			return fmt.Errorf("align request counter: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// WithTx runs fn inside a database transaction.
func (s *GormStore) WithTx(fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

// GetUser looks up a user by phone.
func (s *GormStore) GetUser(phone string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	u, err := userFromModel(model)
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}

// PutUser registers or updates a user.
func (s *GormStore) PutUser(u domain.User) error {
	model, err := userToModel(u)
	if err != nil {
		return err
	}
	model.UpdatedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "role", "district", "taluk", "village", "blood_group",
			"cooldown_override", "last_donation_at", "points", "approved",
			"notifications", "updated_at",
		}),
	}).Create(&model).Error
}

// ListUsers returns all users ordered by registration.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Order("phone ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		u, err := userFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

// NextRequestID advances the counter row; the row lock serializes concurrent callers.
func (s *GormStore) NextRequestID() (int64, error) {
	var id int64
	err := s.db.Raw(
		"UPDATE system_state_models SET request_counter = request_counter + 1, updated_at = ? WHERE id = ? RETURNING request_counter",
		time.Now().UTC(), systemStateID,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("system state row missing")
	}
	return id, nil
}

// AppendRequest inserts a new request.
func (s *GormStore) AppendRequest(r domain.Request) error {
	model, err := requestToModel(r)
	if err != nil {
		return err
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("request %d: %w", r.ID, ErrConflict)
		}
		return err
	}
	return nil
}

// GetRequest retrieves a request.
func (s *GormStore) GetRequest(id int64) (domain.Request, bool, error) {
	var model RequestModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Request{}, false, nil
		}
		return domain.Request{}, false, err
	}
	r, err := requestFromModel(model)
	if err != nil {
		return domain.Request{}, false, err
	}
	return r, true, nil
}

// FindRequests loads requests in id order and keeps those accepted by match.
func (s *GormStore) FindRequests(match func(domain.Request) bool) ([]domain.Request, error) {
	var models []RequestModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Request, 0, len(models))
	for _, m := range models {
		r, err := requestFromModel(m)
		if err != nil {
			return nil, err
		}
		if match == nil || match(r) {
			res = append(res, r)
		}
	}
	return res, nil
}

// SaveRequest overwrites every column of an existing request.
func (s *GormStore) SaveRequest(r domain.Request) error {
	model, err := requestToModel(r)
	if err != nil {
		return err
	}
	res := s.db.Model(&RequestModel{}).Where("id = ?", r.ID).Select("*").Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("request %d not found", r.ID)
	}
	return nil
}

// AppendUnits adds units after the current tail of the inventory list.
func (s *GormStore) AppendUnits(units ...domain.InventoryUnit) error {
	if len(units) == 0 {
		return nil
	}
	var tail sql.NullInt64
	if err := s.db.Model(&InventoryUnitModel{}).Select("MAX(position)").Scan(&tail).Error; err != nil {
		return err
	}
	next := tail.Int64 + 1
	models := make([]InventoryUnitModel, 0, len(units))
	for i, u := range units {
		models = append(models, unitToModel(u, next+int64(i)))
	}
	if err := s.db.Create(&models).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("inventory unit: %w", ErrConflict)
		}
		return err
	}
	return nil
}

// GetUnit looks up one inventory entry.
func (s *GormStore) GetUnit(id string) (domain.InventoryUnit, bool, error) {
	var model InventoryUnitModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.InventoryUnit{}, false, nil
		}
		return domain.InventoryUnit{}, false, err
	}
	return unitFromModel(model), true, nil
}

// ListUnits returns inventory in list order.
func (s *GormStore) ListUnits() ([]domain.InventoryUnit, error) {
	var models []InventoryUnitModel
	if err := s.db.Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.InventoryUnit, 0, len(models))
	for _, m := range models {
		res = append(res, unitFromModel(m))
	}
	return res, nil
}

// ReplaceUnits rewrites the whole inventory list.
func (s *GormStore) ReplaceUnits(units []domain.InventoryUnit) error {
	return s.WithTx(func(txStore Store) error {
		tx := txStore.(*GormStore).db
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&InventoryUnitModel{}).Error; err != nil {
			return err
		}
		if len(units) == 0 {
			return nil
		}
		models := make([]InventoryUnitModel, 0, len(units))
		for i, u := range units {
			models = append(models, unitToModel(u, int64(i+1)))
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// RedAlert reads the red alert flag.
func (s *GormStore) RedAlert() (bool, error) {
	var model SystemStateModel
	if err := s.db.First(&model, "id = ?", systemStateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return model.RedAlert, nil
}

// SetRedAlert persists the red alert flag.
func (s *GormStore) SetRedAlert(active bool) error {
	return s.db.Model(&SystemStateModel{}).
		Where("id = ?", systemStateID).
		Updates(map[string]any{
			"red_alert":  active,
			"updated_at": time.Now().UTC(),
		}).Error
}

func userToModel(u domain.User) (UserModel, error) {
	notifications := u.Notifications
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	raw, err := json.Marshal(notifications)
	if err != nil {
		return UserModel{}, fmt.Errorf("encode notifications: %w", err)
	}
	return UserModel{
		Phone:            u.Phone,
		Name:             u.Name,
		Role:             string(u.Role),
		District:         u.Location.District,
		Taluk:            u.Location.Taluk,
		Village:          u.Location.Village,
		BloodGroup:       string(u.BloodGroup),
		CooldownOverride: u.CooldownOverride,
		LastDonationAt:   u.LastDonationAt,
		Points:           u.Points,
		Approved:         u.Approved,
		Notifications:    raw,
	}, nil
}

func userFromModel(m UserModel) (domain.User, error) {
	var notifications []domain.Notification
	if err := unmarshalColumn("notifications", m.Notifications, &notifications); err != nil {
		return domain.User{}, fmt.Errorf("user %s: %w", m.Phone, err)
	}
	return domain.User{
		Phone: m.Phone,
		Name:  m.Name,
		Role:  domain.Role(m.Role),
		Location: domain.Location{
			District: m.District,
			Taluk:    m.Taluk,
			Village:  m.Village,
		},
		BloodGroup:       domain.BloodType(m.BloodGroup),
		CooldownOverride: m.CooldownOverride,
		LastDonationAt:   m.LastDonationAt,
		Points:           m.Points,
		Approved:         m.Approved,
		Notifications:    notifications,
	}, nil
}

func requestToModel(r domain.Request) (RequestModel, error) {
	matched, err := marshalColumn(r.MatchedDonors, []domain.MatchedDonor{})
	if err != nil {
		return RequestModel{}, err
	}
	pledged, err := marshalColumn(r.PledgedDonors, []domain.Pledge{})
	if err != nil {
		return RequestModel{}, err
	}
	inventory, err := marshalColumn(r.InventoryIDs, []string{})
	if err != nil {
		return RequestModel{}, err
	}
	results, err := marshalColumn(r.TestResults, map[string]string{})
	if err != nil {
		return RequestModel{}, err
	}
	return RequestModel{
		ID:             r.ID,
		Requester:      r.Requester,
		BloodType:      string(r.BloodType),
		Units:          r.Units,
		Urgency:        string(r.Urgency),
		Status:         string(r.Status),
		District:       r.Location.District,
		Taluk:          r.Location.Taluk,
		Village:        r.Location.Village,
		MatchedDonors:  matched,
		PledgedDonors:  pledged,
		InventoryIDs:   inventory,
		TestResults:    results,
		FulfilledUnits: r.FulfilledUnits,
		FulfilledBy:    r.FulfilledBy,
		FulfilledAt:    r.FulfilledAt,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}, nil
}

// marshalColumn encodes v, substituting empty for a nil slice or map so the column is never SQL null.
func marshalColumn[T any](v T, empty T) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	if string(raw) == "null" {
		return json.Marshal(empty)
	}
	return raw, nil
}

// unmarshalColumn decodes a JSON column into v. An empty column leaves v untouched.
func unmarshalColumn(name string, raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode column %s: %w", name, err)
	}
	return nil
}

func requestFromModel(m RequestModel) (domain.Request, error) {
	r := domain.Request{
		ID:        m.ID,
		Requester: m.Requester,
		BloodType: domain.BloodType(m.BloodType),
		Units:     m.Units,
		Urgency:   domain.Urgency(m.Urgency),
		Status:    domain.RequestStatus(m.Status),
		Location: domain.Location{
			District: m.District,
			Taluk:    m.Taluk,
			Village:  m.Village,
		},
		FulfilledUnits: m.FulfilledUnits,
		FulfilledBy:    m.FulfilledBy,
		FulfilledAt:    m.FulfilledAt,
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
	}
	columns := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"matched_donors", m.MatchedDonors, &r.MatchedDonors},
		{"pledged_donors", m.PledgedDonors, &r.PledgedDonors},
		{"inventory_ids", m.InventoryIDs, &r.InventoryIDs},
		{"test_results", m.TestResults, &r.TestResults},
	}
	for _, c := range columns {
		if err := unmarshalColumn(c.name, c.raw, c.dst); err != nil {
			return domain.Request{}, fmt.Errorf("request %d: %w", m.ID, err)
		}
	}
	return r, nil
}

func unitToModel(u domain.InventoryUnit, position int64) InventoryUnitModel {
	return InventoryUnitModel{
		ID:         u.ID,
		Position:   position,
		BloodType:  string(u.BloodType),
		Units:      u.Units,
		Expiry:     u.Expiry,
		DonorPhone: u.DonorPhone,
		RequestID:  u.RequestID,
		TestReport: u.TestReport,
		Custodian:  u.Custodian,
		AddedAt:    u.AddedAt,
	}
}

func unitFromModel(m InventoryUnitModel) domain.InventoryUnit {
	return domain.InventoryUnit{
		ID:         m.ID,
		BloodType:  domain.BloodType(m.BloodType),
		Units:      m.Units,
		Expiry:     m.Expiry,
		DonorPhone: m.DonorPhone,
		RequestID:  m.RequestID,
		TestReport: m.TestReport,
		Custodian:  m.Custodian,
		AddedAt:    m.AddedAt,
	}
}
