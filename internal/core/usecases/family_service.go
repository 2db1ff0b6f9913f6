package usecases

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
)

// FamilyService manages the household members attached to a user account.
// Members are addressed by an opaque token so device pairings never expose
// the owning account id.
type FamilyService struct {
	members ports.FamilyMemberRepository
	users   ports.UserRepository
}

func NewFamilyService(members ports.FamilyMemberRepository, users ports.UserRepository) *FamilyService {
	return &FamilyService{members: members, users: users}
}

// AddMemberInput carries the caller-supplied fields for a new member.
type AddMemberInput struct {
	Relationship  domain.FamilyRelationship
	BirthYear     int
	Gender        string
	Nickname      string
	SensorEnabled bool
	NotifyEnabled bool
}

// AddMember registers a household member under the user, minting a unique
// member token. Token collisions are retried a bounded number of times before
// surfacing ErrDuplicateMember.
func (s *FamilyService) AddMember(ctx context.Context, userID string, in AddMemberInput) (*domain.FamilyMember, error) {
	if !in.Relationship.Valid() {
		return nil, fmt.Errorf("invalid relationship %q", in.Relationship)
	}
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	member := &domain.FamilyMember{
		UserID:        userID,
		Relationship:  in.Relationship,
		BirthYear:     in.BirthYear,
		Gender:        in.Gender,
		Nickname:      in.Nickname,
		SensorEnabled: in.SensorEnabled,
		NotifyEnabled: in.NotifyEnabled,
		Active:        true,
	}

	for attempt := 0; attempt < 3; attempt++ {
		token, err := newMemberToken()
		if err != nil {
			return nil, err
		}
		taken, err := s.members.TokenExists(ctx, token)
		if err != nil {
			return nil, domain.MapDeadline(err)
		}
		if taken {
			continue
		}
		member.MemberToken = token
		if err := s.members.Insert(ctx, member); err != nil {
			return nil, domain.MapDeadline(err)
		}
		return member, nil
	}
	return nil, domain.ErrDuplicateMember
}

// ListMembers returns the user's active household members.
func (s *FamilyService) ListMembers(ctx context.Context, userID string) ([]domain.FamilyMember, error) {
	members, err := s.members.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return members, nil
}

// UpdateMemberInput holds the mutable fields; nil means leave unchanged.
type UpdateMemberInput struct {
	Nickname      *string
	SensorEnabled *bool
	NotifyEnabled *bool
}

// UpdateMember applies a partial update to one member owned by the user.
func (s *FamilyService) UpdateMember(ctx context.Context, userID, memberID string, in UpdateMemberInput) (*domain.FamilyMember, error) {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	if member.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if in.Nickname != nil {
		member.Nickname = *in.Nickname
	}
	if in.SensorEnabled != nil {
		member.SensorEnabled = *in.SensorEnabled
	}
	if in.NotifyEnabled != nil {
		member.NotifyEnabled = *in.NotifyEnabled
	}
	if err := s.members.Update(ctx, member); err != nil {
		return nil, domain.MapDeadline(err)
	}
	return member, nil
}

// DeactivateMember soft-deletes a member; the token stays reserved.
func (s *FamilyService) DeactivateMember(ctx context.Context, userID, memberID string) error {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return domain.MapDeadline(err)
	}
	if member.UserID != userID {
		return domain.ErrNotFound
	}
	return domain.MapDeadline(s.members.Deactivate(ctx, memberID))
}

func newMemberToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint member token: %w", err)
	}
	return "fm_" + hex.EncodeToString(buf), nil
}
