package walletdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"walletcore/native/multisig"
)

// Store persists multisig state in a relational database through gorm. It
// implements multisig.Store; InTx maps onto a database transaction so the
// engine's read-modify-write recomputations are atomic.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the wallet database at path and migrates the
// schema. The special path ":memory:" yields an ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open wallet db: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate wallet db: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) InTx(ctx context.Context, fn func(multisig.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) AccountPut(ctx context.Context, acct *multisig.Account) error {
	row := accountToRow(acct)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) AccountGet(ctx context.Context, id string) (*multisig.Account, bool, error) {
	var row AccountRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rowToAccount(row), true, nil
}

func (s *Store) Accounts(ctx context.Context) ([]*multisig.Account, error) {
	var rows []AccountRow
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*multisig.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToAccount(row))
	}
	return out, nil
}

func (s *Store) AccountByAddress(ctx context.Context, address, chainCode string) (*multisig.Account, bool, error) {
	var row AccountRow
	err := s.db.WithContext(ctx).First(&row, "address = ? AND chain_code = ?", address, chainCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rowToAccount(row), true, nil
}

func (s *Store) MembersPut(ctx context.Context, members []multisig.Member) error {
	if len(members) == 0 {
		return nil
	}
	rows := make([]MemberRow, 0, len(members))
	for _, m := range members {
		rows = append(rows, memberToRow(m))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "address"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

func (s *Store) MembersByAccount(ctx context.Context, accountID string) (multisig.Members, error) {
	var rows []MemberRow
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("address").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(multisig.Members, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToMember(row))
	}
	return out, nil
}

func (s *Store) QueuePut(ctx context.Context, q *multisig.Queue) error {
	row := queueToRow(q)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) QueueGet(ctx context.Context, id string) (*multisig.Queue, bool, error) {
	var row QueueRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rowToQueue(row), true, nil
}

func (s *Store) QueuesByAccount(ctx context.Context, accountID string) ([]*multisig.Queue, error) {
	var rows []QueueRow
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*multisig.Queue, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToQueue(row))
	}
	return out, nil
}

func (s *Store) QueuesByStatus(ctx context.Context, statuses ...multisig.QueueStatus) ([]*multisig.Queue, error) {
	// []uint8 is []byte, which gorm binds as a single blob; use []int so
	// the IN clause expands to one placeholder per status code.
	codes := make([]int, 0, len(statuses))
	for _, status := range statuses {
		codes = append(codes, int(status))
	}
	var rows []QueueRow
	if err := s.db.WithContext(ctx).
		Where("status IN ?", codes).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*multisig.Queue, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToQueue(row))
	}
	return out, nil
}

func (s *Store) SignaturePut(ctx context.Context, sig multisig.Signature) error {
	row := signatureToRow(sig)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue_id"}, {Name: "address"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) SignaturesByQueue(ctx context.Context, queueID string) (multisig.Signatures, error) {
	var rows []SignatureRow
	if err := s.db.WithContext(ctx).
		Where("queue_id = ?", queueID).
		Order("address").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(multisig.Signatures, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToSignature(row))
	}
	return out, nil
}

func (s *Store) SelfIdentities(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&MemberRow{}).
		Distinct("identity_id").
		Where("is_self = ? AND identity_id <> ''", true).
		Order("identity_id").
		Pluck("identity_id", &ids).Error
	return ids, err
}

func (s *Store) WipeAccount(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var queueIDs []string
		if err := tx.Model(&QueueRow{}).
			Where("account_id = ?", accountID).
			Pluck("id", &queueIDs).Error; err != nil {
			return err
		}
		if len(queueIDs) > 0 {
			if err := tx.Where("queue_id IN ?", queueIDs).Delete(&SignatureRow{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&QueueRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&MemberRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", accountID).Delete(&AccountRow{}).Error
	})
}

func (s *Store) WipeAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&SignatureRow{}, &QueueRow{}, &MemberRow{}, &AccountRow{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
