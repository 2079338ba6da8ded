package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"airspace/internal/broker"
	"airspace/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnnouncementsRoom 只允许达到 announcement_min_xp 的用户或管理员发言。
const AnnouncementsRoom = "Announcements"

var roomNameRe = regexp.MustCompile(`^\w{1,100}$`)

// ValidRoomName 与 websocket 路由 ws/chat/<name> 的规则一致。
func ValidRoomName(name string) bool { return roomNameRe.MatchString(name) }

// OnlineCounter 由 broker 实现，用于房间列表展示在线人数。
type OnlineCounter interface {
	Online(group string) int
}

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	db     *gorm.DB
	online OnlineCounter
}

func NewRoomService(db *gorm.DB, online OnlineCounter) *RoomService {
	return &RoomService{db: db, online: online}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Online int    `json:"online"`
}

// GetOrCreate 按名字取房间，第一次引用时创建。
func (s *RoomService) GetOrCreate(ctx context.Context, name string) (*models.Room, error) {
	return roomByName(s.db.WithContext(ctx), name)
}

// List 返回房间列表，附带各房间的在线人数。
func (s *RoomService) List(ctx context.Context, limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		dto := RoomDTO{ID: r.ID, Name: r.Name}
		if s.online != nil {
			dto.Online = s.online.Online(broker.RoomGroup(r.Name))
		}
		out = append(out, dto)
	}
	return out, nil
}

// Find 返回已存在的房间，不会创建。
func (s *RoomService) Find(ctx context.Context, name string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func roomByName(tx *gorm.DB, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if !ValidRoomName(name) {
		return nil, fmt.Errorf("room %q: %w", name, ErrInvalidRoomName)
	}
	room := models.Room{Name: name}
	if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).Create(&room).Error; err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	var row models.Room
	if err := tx.Where("name = ?", name).First(&row).Error; err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	return &row, nil
}
