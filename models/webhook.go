package models

import "time"

// WebhookTxn is one row of the append-only webhook dedup ledger. A provider
// event is processed at most once per (provider, event_type, txn_id,
// txn_date); replays hit the unique index and are skipped. Rows are never
// updated or deleted by the engine.
type WebhookTxn struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Provider string `gorm:"not null;uniqueIndex:idx_webhook_txn" json:"provider"`
	Type     string `gorm:"not null;uniqueIndex:idx_webhook_txn" json:"type"`
	TxnID    string `gorm:"not null;uniqueIndex:idx_webhook_txn" json:"txn_id"`
	TxnDate  string `gorm:"not null;uniqueIndex:idx_webhook_txn" json:"txn_date"`

	Payload string `gorm:"type:text" json:"payload"` // raw event, kept for audit

	CreatedAt time.Time `json:"created_at"`
}
