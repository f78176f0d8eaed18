package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/stationquest/render-api/internal/model"
)

// RedisTemplates reads template records published by the organizer backend
// under render:template:<id>. Templates are immutable once published, so no
// invalidation is needed here.
type RedisTemplates struct {
	rdb *redis.Client
}

func NewRedisTemplates(rdb *redis.Client) *RedisTemplates {
	return &RedisTemplates{rdb: rdb}
}

func (s *RedisTemplates) GetTemplate(ctx context.Context, id string) (*model.VideoTemplate, error) {
	data, err := s.rdb.Get(ctx, "render:template:"+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	var tpl model.VideoTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}
