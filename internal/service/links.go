package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/xid"
)

func (s *Service) ListFolders(ctx context.Context) ([]domain.LinkFolder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFolders(ctx, actor.UserID)
}

func (s *Service) CreateFolder(ctx context.Context, req domain.FolderRequest) (domain.LinkFolder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.LinkFolder{}, err
	}
	req, err = s.normalizeFolder(req)
	if err != nil {
		return domain.LinkFolder{}, err
	}

	created, err := s.repo.CreateFolder(ctx, domain.LinkFolder{
		ID:          xid.New("fld"),
		UserID:      actor.UserID,
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.LinkFolder{}, err
	}
	return *created, nil
}

func (s *Service) UpdateFolder(ctx context.Context, id string, req domain.FolderRequest) (domain.LinkFolder, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.LinkFolder{}, err
	}
	req, err = s.normalizeFolder(req)
	if err != nil {
		return domain.LinkFolder{}, err
	}

	updated, err := s.repo.UpdateFolder(ctx, domain.LinkFolder{
		ID:          strings.TrimSpace(id),
		UserID:      actor.UserID,
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		return domain.LinkFolder{}, err
	}
	return *updated, nil
}

// DeleteFolder moves the folder's links to uncategorized and removes the
// folder in one transaction.
func (s *Service) DeleteFolder(ctx context.Context, id string) (domain.FolderDeleteResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.FolderDeleteResponse{}, err
	}
	id = strings.TrimSpace(id)

	resp := domain.FolderDeleteResponse{FolderID: id}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		moved, err := tx.ClearLinkFolder(ctx, actor.UserID, id)
		if err != nil {
			return err
		}
		resp.LinksMoved = moved
		return tx.DeleteLinkFolder(ctx, actor.UserID, id)
	})
	if err != nil {
		return domain.FolderDeleteResponse{}, err
	}

	s.logAudit(ctx, "folder_delete", "folder", id, logrus.Fields{"links_moved": resp.LinksMoved})
	return resp, nil
}

func (s *Service) normalizeFolder(req domain.FolderRequest) (domain.FolderRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.Color = strings.ToUpper(strings.TrimSpace(req.Color))
	if req.Color == "" {
		req.Color = domain.FolderColors[0]
	}
	if err := s.validateStruct(req); err != nil {
		return req, err
	}
	if !domain.IsFolderColor(req.Color) {
		return req, store.Invalid("color", "not in the folder palette")
	}
	return req, nil
}

func (s *Service) ListLinks(ctx context.Context, filter domain.LinkFilter) ([]domain.Link, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.UserID = actor.UserID
	filter.FolderID = strings.TrimSpace(filter.FolderID)
	if filter.Uncategorized && filter.FolderID != "" {
		return nil, store.Invalid("folder_id", "cannot be combined with uncategorized")
	}
	return s.repo.ListLinks(ctx, filter)
}

func (s *Service) CreateLink(ctx context.Context, req domain.LinkRequest) (domain.Link, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Link{}, err
	}
	req = normalizeLink(req)
	if err := s.validateStruct(req); err != nil {
		return domain.Link{}, err
	}

	created, err := s.repo.CreateLink(ctx, domain.Link{
		ID:        xid.New("lnk"),
		UserID:    actor.UserID,
		Name:      req.Name,
		URL:       req.URL,
		FolderID:  req.FolderID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Link{}, err
	}
	return *created, nil
}

func (s *Service) UpdateLink(ctx context.Context, id string, req domain.LinkRequest) (domain.Link, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Link{}, err
	}
	req = normalizeLink(req)
	if err := s.validateStruct(req); err != nil {
		return domain.Link{}, err
	}

	updated, err := s.repo.UpdateLink(ctx, domain.Link{
		ID:       strings.TrimSpace(id),
		UserID:   actor.UserID,
		Name:     req.Name,
		URL:      req.URL,
		FolderID: req.FolderID,
	})
	if err != nil {
		return domain.Link{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteLink(ctx context.Context, id string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	return s.repo.DeleteLink(ctx, actor.UserID, strings.TrimSpace(id))
}

func normalizeLink(req domain.LinkRequest) domain.LinkRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	req.FolderID = strings.TrimSpace(req.FolderID)
	return req
}
