package services

import (
	"context"
	"errors"
	"strings"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/repo"
)

var ErrInvalidScript = errors.New("invalid script")

type ScriptService struct{ scripts *repo.ScriptRepository }

func NewScriptService(scripts *repo.ScriptRepository) *ScriptService {
	return &ScriptService{scripts: scripts}
}

func (s *ScriptService) Create(ctx context.Context, name, content string, timeout int) (*models.Script, error) {
	if strings.TrimSpace(name) == "" || content == "" {
		return nil, ErrInvalidScript
	}
	if timeout < 0 {
		return nil, ErrInvalidScript
	}
	sc := &models.Script{Name: name, Content: content, Timeout: timeout}
	if err := s.scripts.Create(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *ScriptService) List(ctx context.Context) ([]models.Script, error) {
	return s.scripts.List(ctx)
}

func (s *ScriptService) FindByID(ctx context.Context, id uint) (*models.Script, error) {
	return s.scripts.FindByID(ctx, id)
}
