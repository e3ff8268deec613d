package repository

import "time"

// User is a registered account. Predictions may optionally reference one.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255;not null"`
	Name         string    `gorm:"column:name;size:255"`
	PasswordHash string    `gorm:"column:password_hash;size:255"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// Prediction is the persisted record of one classified upload.
type Prediction struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID     *uint     `gorm:"column:user_id;index"`
	ImageName  string    `gorm:"column:image_name;size:255"`
	SHA1Hash   string    `gorm:"column:sha1_hash;index;size:40"`
	Label      string    `gorm:"column:label;size:128;not null"`
	Confidence float64   `gorm:"column:confidence;not null"`
	SkinRatio  float64   `gorm:"column:skin_ratio"`
	Gate       string    `gorm:"column:gate;size:32;index"`
	TopK       string    `gorm:"column:topk;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (Prediction) TableName() string {
	return "predictions"
}

// GateCount is the number of predictions, and their mean confidence, per gate.
type GateCount struct {
	Gate              string
	Count             int64
	AverageConfidence float64
}

// LabelCount is the number of accepted predictions per label.
type LabelCount struct {
	Label string
	Count int64
}

// StatsAggregation summarises all stored predictions.
type StatsAggregation struct {
	Gates  []GateCount
	Labels []LabelCount
}
