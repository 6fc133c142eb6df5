package postgres

import (
	"time"

	"github.com/dkeye/Drop/internal/domain"
)

type sessionRow struct {
	PublicID       string        `gorm:"primaryKey;size:64"`
	SenderConnID   string        `gorm:"size:64;not null;index"`
	DeletionSecret string        `gorm:"size:128;not null;uniqueIndex"`
	Items          []domain.Item `gorm:"type:jsonb;serializer:json;not null"`
	IsOpen         bool          `gorm:"not null"`
	CreatedAt      time.Time     `gorm:"not null;index"`
	Receivers      []receiverRow `gorm:"foreignKey:PublicID;references:PublicID;constraint:OnDelete:CASCADE"`
}

func (sessionRow) TableName() string { return "sessions" }

type receiverRow struct {
	PublicID string `gorm:"primaryKey;size:64"`
	ConnID   string `gorm:"primaryKey;size:64;index"`
}

func (receiverRow) TableName() string { return "session_receivers" }

func newSessionRow(s *domain.Session) *sessionRow {
	return &sessionRow{
		PublicID:       string(s.PublicID),
		SenderConnID:   string(s.SenderConnID),
		DeletionSecret: s.DeletionSecret,
		Items:          s.Items,
		IsOpen:         s.IsOpen,
		CreatedAt:      s.CreatedAt,
	}
}

func (r *sessionRow) toDomain() *domain.Session {
	receivers := make([]domain.ConnID, 0, len(r.Receivers))
	for _, rr := range r.Receivers {
		receivers = append(receivers, domain.ConnID(rr.ConnID))
	}
	return &domain.Session{
		PublicID:        domain.PublicID(r.PublicID),
		SenderConnID:    domain.ConnID(r.SenderConnID),
		ReceiverConnIDs: receivers,
		Items:           r.Items,
		IsOpen:          r.IsOpen,
		DeletionSecret:  r.DeletionSecret,
		CreatedAt:       r.CreatedAt,
	}
}

func toDomainList(rows []sessionRow) []*domain.Session {
	out := make([]*domain.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}
