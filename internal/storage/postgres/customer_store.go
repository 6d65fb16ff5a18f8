package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/panelworks/cutflow/internal/models"
)

// NormalizePhone reduces a phone number to bare digits so lookups are
// stable across formatting: "+49 171 / 123-456", "0049171123456" and
// "49171123456" all normalize to "49171123456".
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	digits = strings.TrimPrefix(digits, "00")
	return digits
}

// LookupCustomerByPhone returns nil, nil when no customer matches; the
// caller decides whether absence is an error (it is a HOLD condition in
// the pipeline, not one here).
func (s *JobStore) LookupCustomerByPhone(ctx context.Context, phoneNormalized string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.WithContext(ctx).First(&customer, "phone_normalized = ?", phoneNormalized).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	return &customer, nil
}

// UpsertCustomer inserts a customer keyed by normalized phone. Existing
// wins: a conflicting insert returns the stored row unchanged.
func (s *JobStore) UpsertCustomer(ctx context.Context, name string, phone string) (*models.Customer, error) {
	normalized := NormalizePhone(phone)

	customer := models.Customer{
		ID:              uuid.NewString(),
		Name:            name,
		PhoneNormalized: normalized,
	}
	err := s.db.WithContext(ctx).
		Where("phone_normalized = ?", normalized).
		FirstOrCreate(&customer).Error
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return &customer, nil
}
