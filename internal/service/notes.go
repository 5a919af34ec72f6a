package service

import (
	"context"
	"strings"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/xid"
)

func (s *Service) ListNotes(ctx context.Context) ([]domain.Note, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListNotes(ctx, actor.UserID)
}

func (s *Service) CreateNote(ctx context.Context, req domain.NoteRequest) (domain.Note, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Note{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validateStruct(req); err != nil {
		return domain.Note{}, err
	}

	now := s.now()
	created, err := s.repo.CreateNote(ctx, domain.Note{
		ID:        xid.New("note"),
		UserID:    actor.UserID,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Note{}, err
	}
	return *created, nil
}

func (s *Service) UpdateNote(ctx context.Context, id string, req domain.NoteRequest) (domain.Note, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Note{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validateStruct(req); err != nil {
		return domain.Note{}, err
	}

	updated, err := s.repo.UpdateNote(ctx, domain.Note{
		ID:        strings.TrimSpace(id),
		UserID:    actor.UserID,
		Title:     req.Title,
		Content:   req.Content,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return domain.Note{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	return s.repo.DeleteNote(ctx, actor.UserID, strings.TrimSpace(id))
}
