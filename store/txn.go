package store

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listsync/models"
)

// TxnStore is the append-only webhook dedup ledger. Rows are never updated
// or deleted by the engine; retention is an operational concern.
type TxnStore struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewTxnStore(db *gorm.DB, logger *logrus.Logger) *TxnStore {
	return &TxnStore{DB: db, Logger: logger}
}

// InsertIfAbsent is an atomic check-and-insert on the unique
// (provider, type, txn_id, txn_date) index: ON CONFLICT DO NOTHING, then
// rows-affected tells whether this delivery is the first one. Correct under
// concurrent webhook delivery, unlike a read-then-write.
func (t *TxnStore) InsertIfAbsent(txn *models.WebhookTxn) (bool, error) {
	result := t.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"}, {Name: "type"}, {Name: "txn_id"}, {Name: "txn_date"},
		},
		DoNothing: true,
	}).Create(txn)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
