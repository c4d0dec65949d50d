package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/repo"
)

var ErrDeviceExists = errors.New("device already registered")

// DeviceStatus is a registered device with its live state from the TTL store.
type DeviceStatus struct {
	models.Device
	Online        bool
	LastHeartbeat time.Time
	QueueDepth    int64
}

type DeviceService struct {
	devices *repo.DeviceRepository
	engine  *dispatch.Engine
}

func NewDeviceService(devices *repo.DeviceRepository, engine *dispatch.Engine) *DeviceService {
	return &DeviceService{devices: devices, engine: engine}
}

// Register creates a device and issues its certificate. An empty code gets a generated one.
func (s *DeviceService) Register(ctx context.Context, code, name, groupID string) (*models.Device, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = uuid.NewString()
	}
	if _, err := s.devices.FindByCode(ctx, code); err == nil {
		return nil, ErrDeviceExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	d := &models.Device{
		Code:        code,
		Name:        name,
		GroupID:     groupID,
		Certificate: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if err := s.devices.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return d, nil
}

func (s *DeviceService) FindByCode(ctx context.Context, code string) (*models.Device, error) {
	return s.devices.FindByCode(ctx, code)
}

func (s *DeviceService) SetGroup(ctx context.Context, code, groupID string) error {
	return s.devices.SetGroup(ctx, code, groupID)
}

// List returns every device with its online flag, last heartbeat and queue depth.
// Live state is best effort: a store failure leaves the device reported offline.
func (s *DeviceService) List(ctx context.Context) ([]DeviceStatus, error) {
	ds, err := s.devices.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceStatus, 0, len(ds))
	for _, d := range ds {
		st := DeviceStatus{Device: d}
		st.Online, _ = s.engine.Liveness.IsOnline(ctx, d.Code)
		st.LastHeartbeat, _ = s.engine.Liveness.LastHeartbeat(ctx, d.Code)
		st.QueueDepth, _ = s.engine.Queue.PeekDepth(ctx, d.Code)
		out = append(out, st)
	}
	return out, nil
}

// Queue lists up to limit instructions waiting for a device without consuming them.
func (s *DeviceService) Queue(ctx context.Context, code string, limit int) (int64, []dispatch.DeviceInstruction, error) {
	if _, err := s.devices.FindByCode(ctx, code); err != nil {
		return 0, nil, err
	}
	depth, err := s.engine.Queue.PeekDepth(ctx, code)
	if err != nil {
		return 0, nil, err
	}
	pending, err := s.engine.Queue.Pending(ctx, code, limit)
	if err != nil {
		return 0, nil, err
	}
	return depth, pending, nil
}
