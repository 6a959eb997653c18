package walletdb

import (
	"gorm.io/gorm"

	"walletcore/native/multisig"
)

// AccountRow is the persisted form of a multisig account.
type AccountRow struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"size:128"`
	Address          string `gorm:"index:idx_account_address;size:128"`
	AddressType      string `gorm:"size:32"`
	ChainCode        string `gorm:"index:idx_account_address;size:32"`
	InitiatorAddress string `gorm:"size:128"`
	Threshold        int    `gorm:"not null"`
	MemberCount      int    `gorm:"not null"`
	Status           uint8  `gorm:"index"`
	OwnerRole        uint8
	Deployed         bool
	Deleted          bool `gorm:"index"`
	CreatedAt        int64
}

// MemberRow is one key-holder of an account.
type MemberRow struct {
	AccountID  string `gorm:"primaryKey;size:64"`
	Address    string `gorm:"primaryKey;size:128"`
	Name       string `gorm:"size:128"`
	PublicKey  string `gorm:"size:256"`
	IdentityID string `gorm:"index;size:64"`
	IsSelf     bool
	Confirmed  bool
}

// QueueRow is one proposed transaction.
type QueueRow struct {
	ID              string `gorm:"primaryKey;size:64"`
	AccountID       string `gorm:"index;size:64"`
	FromAddress     string `gorm:"size:128"`
	ToAddress       string `gorm:"size:128"`
	Value           string `gorm:"size:80"`
	Symbol          string `gorm:"size:32"`
	ChainCode       string `gorm:"size:32"`
	TokenAddress    string `gorm:"size:128"`
	Expiration      int64
	UnsignedPayload string `gorm:"type:text"`
	MessageHash     string `gorm:"size:256"`
	TxHash          string `gorm:"size:128"`
	Status          uint8  `gorm:"index"`
	FailReason      string `gorm:"size:32"`
	Notes           string `gorm:"size:512"`
	CreatedAt       int64
}

// SignatureRow is one member's verdict on one queue entry.
type SignatureRow struct {
	QueueID string `gorm:"primaryKey;size:64"`
	Address string `gorm:"primaryKey;size:128"`
	Status  uint8
	Bytes   string `gorm:"type:text"`
}

// AutoMigrate performs all schema migrations for the wallet store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountRow{},
		&MemberRow{},
		&QueueRow{},
		&SignatureRow{},
	)
}

func accountToRow(acct *multisig.Account) AccountRow {
	return AccountRow{
		ID:               acct.ID,
		Name:             acct.Name,
		Address:          acct.Address,
		AddressType:      acct.AddressType,
		ChainCode:        acct.ChainCode,
		InitiatorAddress: acct.InitiatorAddress,
		Threshold:        acct.Threshold,
		MemberCount:      acct.MemberCount,
		Status:           uint8(acct.Status),
		OwnerRole:        uint8(acct.OwnerRole),
		Deployed:         acct.Deployed,
		Deleted:          acct.Deleted,
		CreatedAt:        acct.CreatedAt,
	}
}

func rowToAccount(row AccountRow) *multisig.Account {
	return &multisig.Account{
		ID:               row.ID,
		Name:             row.Name,
		Address:          row.Address,
		AddressType:      row.AddressType,
		ChainCode:        row.ChainCode,
		InitiatorAddress: row.InitiatorAddress,
		Threshold:        row.Threshold,
		MemberCount:      row.MemberCount,
		Status:           multisig.AccountStatus(row.Status),
		OwnerRole:        multisig.OwnerRole(row.OwnerRole),
		Deployed:         row.Deployed,
		Deleted:          row.Deleted,
		CreatedAt:        row.CreatedAt,
	}
}

func memberToRow(m multisig.Member) MemberRow {
	return MemberRow{
		AccountID:  m.AccountID,
		Address:    m.Address,
		Name:       m.Name,
		PublicKey:  m.PublicKey,
		IdentityID: m.IdentityID,
		IsSelf:     m.IsSelf,
		Confirmed:  m.Confirmed,
	}
}

func rowToMember(row MemberRow) multisig.Member {
	return multisig.Member{
		AccountID:  row.AccountID,
		Address:    row.Address,
		Name:       row.Name,
		PublicKey:  row.PublicKey,
		IdentityID: row.IdentityID,
		IsSelf:     row.IsSelf,
		Confirmed:  row.Confirmed,
	}
}

func queueToRow(q *multisig.Queue) QueueRow {
	return QueueRow{
		ID:              q.ID,
		AccountID:       q.AccountID,
		FromAddress:     q.FromAddress,
		ToAddress:       q.ToAddress,
		Value:           q.Value,
		Symbol:          q.Symbol,
		ChainCode:       q.ChainCode,
		TokenAddress:    q.TokenAddress,
		Expiration:      q.Expiration,
		UnsignedPayload: q.UnsignedPayload,
		MessageHash:     q.MessageHash,
		TxHash:          q.TxHash,
		Status:          uint8(q.Status),
		FailReason:      q.FailReason,
		Notes:           q.Notes,
		CreatedAt:       q.CreatedAt,
	}
}

func rowToQueue(row QueueRow) *multisig.Queue {
	return &multisig.Queue{
		ID:              row.ID,
		AccountID:       row.AccountID,
		FromAddress:     row.FromAddress,
		ToAddress:       row.ToAddress,
		Value:           row.Value,
		Symbol:          row.Symbol,
		ChainCode:       row.ChainCode,
		TokenAddress:    row.TokenAddress,
		Expiration:      row.Expiration,
		UnsignedPayload: row.UnsignedPayload,
		MessageHash:     row.MessageHash,
		TxHash:          row.TxHash,
		Status:          multisig.QueueStatus(row.Status),
		FailReason:      row.FailReason,
		Notes:           row.Notes,
		CreatedAt:       row.CreatedAt,
	}
}

func signatureToRow(sig multisig.Signature) SignatureRow {
	return SignatureRow{
		QueueID: sig.QueueID,
		Address: sig.Address,
		Status:  uint8(sig.Status),
		Bytes:   sig.Bytes,
	}
}

func rowToSignature(row SignatureRow) multisig.Signature {
	return multisig.Signature{
		QueueID: row.QueueID,
		Address: row.Address,
		Status:  multisig.SignatureStatus(row.Status),
		Bytes:   row.Bytes,
	}
}
