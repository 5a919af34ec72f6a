package service

import (
	"context"
	"errors"
	"strings"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
)

// GetProfile returns the caller's profile, creating it on first access with
// the username as display name.
func (s *Service) GetProfile(ctx context.Context) (domain.Profile, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Profile{}, err
	}

	profile, err := s.repo.GetProfile(ctx, actor.UserID)
	if err == nil {
		return *profile, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Profile{}, err
	}

	fullName := actor.Username
	if fullName == "" {
		fullName = actor.UserID
	}
	created, err := s.repo.UpsertProfile(ctx, domain.Profile{UserID: actor.UserID, FullName: fullName})
	if err != nil {
		return domain.Profile{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req domain.ProfileUpdateRequest) (domain.Profile, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.Profile{}, err
	}
	current, err := s.GetProfile(ctx)
	if err != nil {
		return domain.Profile{}, err
	}

	next := current
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return domain.Profile{}, store.Invalid("full_name", "must not be empty")
		}
		next.FullName = name
	}
	if req.AvatarURL != nil {
		next.AvatarURL = strings.TrimSpace(*req.AvatarURL)
	}

	saved, err := s.repo.UpsertProfile(ctx, next)
	if err != nil {
		return domain.Profile{}, err
	}
	if current.AvatarURL != "" && current.AvatarURL != saved.AvatarURL {
		s.cleanupBlob(ctx, current.UserID, current.AvatarURL)
	}
	return *saved, nil
}
