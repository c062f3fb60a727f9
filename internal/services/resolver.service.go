package services

import (
	"context"
	"errors"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/repository"
)

var (
	// ErrUnknownTenant means no tenant is registered for the phone_number_id.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrUnknownContact means the counterparty has no provisioned contact.
	// Non-fatal: the caller logs and drops the item.
	ErrUnknownContact = errors.New("unknown contact")
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.User, error)
	VerifyTokenExists(ctx context.Context, token string) (bool, error)
}

type ContactRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Contact, error)
	GetByUserAndPhone(ctx context.Context, userID int64, phone string) (*model.Contact, error)
	ListSummaries(ctx context.Context, userID int64) ([]*model.ContactSummary, error)
}

// ContactResolver maps provider identifiers onto internal tenant and contact
// rows. It never creates contacts: provisioning is an external concern.
type ContactResolver struct {
	userRepo    UserRepository
	contactRepo ContactRepository
}

func NewContactResolver(userRepo UserRepository, contactRepo ContactRepository) *ContactResolver {
	return &ContactResolver{
		userRepo:    userRepo,
		contactRepo: contactRepo,
	}
}

// Resolve performs the two-step lookup: phone_number_id to tenant, then
// (tenant, counterparty phone) to contact.
func (r *ContactResolver) Resolve(ctx context.Context, phoneNumberID, counterpartyPhone string) (*model.User, *model.Contact, error) {
	user, err := r.userRepo.GetByPhoneNumberID(ctx, phoneNumberID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, nil, err
	}

	contact, err := r.contactRepo.GetByUserAndPhone(ctx, user.ID, counterpartyPhone)
	if errors.Is(err, repository.ErrContactNotFound) {
		return user, nil, ErrUnknownContact
	}
	if err != nil {
		return nil, nil, err
	}

	return user, contact, nil
}

// ResolveTenant looks up only the tenant for a phone_number_id.
func (r *ContactResolver) ResolveTenant(ctx context.Context, phoneNumberID string) (*model.User, error) {
	user, err := r.userRepo.GetByPhoneNumberID(ctx, phoneNumberID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
