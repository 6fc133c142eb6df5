// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

const MaxItems = 1000

var (
	ErrItemsEmpty   = errors.New("items empty")
	ErrItemsTooMany = errors.New("too many items")
	ErrItemInvalid  = errors.New("item invalid")
)

type (
	// ConnID addresses one live transport connection. It is never reused.
	ConnID string
	// PublicID is the short shareable session identifier.
	PublicID string
)

// Item is the metadata of one transferable file. The content never
// reaches the broker.
type Item struct {
	Name     string `json:"name" validate:"required,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
	MimeType string `json:"mimeType" validate:"max=255"`
}

// Session is the durable record of one sharing transaction.
type Session struct {
	PublicID        PublicID  `json:"publicId"`
	SenderConnID    ConnID    `json:"senderConnectionId"`
	ReceiverConnIDs []ConnID  `json:"receiverConnectionIds"`
	Items           []Item    `json:"items"`
	IsOpen          bool      `json:"isOpen"`
	DeletionSecret  string    `json:"deletionSecret"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewSession builds an open session with no receivers.
func NewSession(id PublicID, secret string, sender ConnID, items []Item, now time.Time) *Session {
	return &Session{
		PublicID:        id,
		SenderConnID:    sender,
		ReceiverConnIDs: []ConnID{},
		Items:           slices.Clone(items),
		IsOpen:          true,
		DeletionSecret:  secret,
		CreatedAt:       now,
	}
}

func (s *Session) HasReceiver(conn ConnID) bool {
	return slices.Contains(s.ReceiverConnIDs, conn)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateItems checks the create payload. The returned error is always
// of kind KindInvalidInput.
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return Invalid(ErrItemsEmpty.Error(), ErrItemsEmpty)
	}
	if len(items) > MaxItems {
		return Invalid(ErrItemsTooMany.Error(), ErrItemsTooMany)
	}
	for i := range items {
		if err := validate.Struct(&items[i]); err != nil {
			return Invalid(fmt.Sprintf("invalid item %d", i), errors.Join(ErrItemInvalid, err))
		}
	}
	return nil
}
