package smartcharging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// nominalVoltage A与W换算使用的标称电压
const nominalVoltage = 230.0

var (
	ErrUnknownEVSE       = errors.New("unknown evse")
	ErrInvalidProfile    = errors.New("invalid charging profile")
	ErrNoTransaction     = errors.New("no active transaction on evse")
	ErrNoApplicableLimit = errors.New("no applicable charging profile")
)

// ProfileStore 充电配置的内存存储
type ProfileStore struct {
	mu       sync.RWMutex
	evses    map[int]struct{}
	profiles map[int]map[int]ocpp201.ChargingProfile // evseId -> profileId -> profile
	now      func() time.Time
}

// NewProfileStore 创建配置存储，evseIDs 为站内EVSE编号
func NewProfileStore(evseIDs []int) *ProfileStore {
	s := &ProfileStore{
		evses:    map[int]struct{}{0: {}},
		profiles: make(map[int]map[int]ocpp201.ChargingProfile),
		now:      time.Now,
	}
	for _, id := range evseIDs {
		s.evses[id] = struct{}{}
	}
	return s
}

// Validate 校验配置能否安装到指定EVSE
func (s *ProfileStore) Validate(evseID int, profile ocpp201.ChargingProfile, activeTransactionID string) error {
	if _, ok := s.evses[evseID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEVSE, evseID)
	}

	switch profile.ChargingProfilePurpose {
	case ocpp201.ChargingProfilePurposeChargingStationMaxProfile:
		if evseID != 0 {
			return fmt.Errorf("%w: station max profile must target evse 0", ErrInvalidProfile)
		}
	case ocpp201.ChargingProfilePurposeTxProfile:
		if evseID == 0 {
			return fmt.Errorf("%w: tx profile requires an evse", ErrInvalidProfile)
		}
		if activeTransactionID == "" {
			return ErrNoTransaction
		}
		if profile.TransactionId != nil && *profile.TransactionId != activeTransactionID {
			return fmt.Errorf("%w: transaction id does not match", ErrInvalidProfile)
		}
	}

	if profile.ValidFrom != nil && profile.ValidTo != nil && !profile.ValidTo.After(*profile.ValidFrom) {
		return fmt.Errorf("%w: validTo before validFrom", ErrInvalidProfile)
	}

	for _, schedule := range profile.ChargingSchedule {
		if len(schedule.ChargingSchedulePeriod) == 0 || schedule.ChargingSchedulePeriod[0].StartPeriod != 0 {
			return fmt.Errorf("%w: first period must start at 0", ErrInvalidProfile)
		}
		for i := 1; i < len(schedule.ChargingSchedulePeriod); i++ {
			if schedule.ChargingSchedulePeriod[i].StartPeriod <= schedule.ChargingSchedulePeriod[i-1].StartPeriod {
				return fmt.Errorf("%w: periods must be strictly increasing", ErrInvalidProfile)
			}
		}
	}
	return nil
}

// Add 安装配置，同用途同栈级的旧配置被替换
func (s *ProfileStore) Add(evseID int, profile ocpp201.ChargingProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, byID := range s.profiles {
		delete(byID, profile.Id)
	}
	byID, ok := s.profiles[evseID]
	if !ok {
		byID = make(map[int]ocpp201.ChargingProfile)
		s.profiles[evseID] = byID
	}
	for id, existing := range byID {
		if existing.ChargingProfilePurpose == profile.ChargingProfilePurpose && existing.StackLevel == profile.StackLevel {
			delete(byID, id)
		}
	}
	byID[profile.Id] = profile
}

// Clear 按ID或条件清除配置，返回清除数量
func (s *ProfileStore) Clear(req ocpp201.ClearChargingProfileRequest) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for evseID, byID := range s.profiles {
		for id, profile := range byID {
			if matches(req, evseID, profile) {
				delete(byID, id)
				cleared++
			}
		}
	}
	return cleared
}

func matches(req ocpp201.ClearChargingProfileRequest, evseID int, profile ocpp201.ChargingProfile) bool {
	if req.ChargingProfileId != nil {
		return profile.Id == *req.ChargingProfileId
	}
	c := req.ChargingProfileCriteria
	if c == nil {
		return true
	}
	if c.EvseId != nil && *c.EvseId != evseID {
		return false
	}
	if c.ChargingProfilePurpose != nil && *c.ChargingProfilePurpose != profile.ChargingProfilePurpose {
		return false
	}
	if c.StackLevel != nil && *c.StackLevel != profile.StackLevel {
		return false
	}
	return true
}

// ClearTransactionProfiles 交易结束时移除该EVSE的TxProfile
func (s *ProfileStore) ClearTransactionProfiles(evseID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, profile := range s.profiles[evseID] {
		if profile.ChargingProfilePurpose == ocpp201.ChargingProfilePurposeTxProfile {
			delete(s.profiles[evseID], id)
		}
	}
}

// Profiles 返回EVSE上的配置，按栈级从高到低
func (s *ProfileStore) Profiles(evseID int) []ocpp201.ChargingProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []ocpp201.ChargingProfile
	for _, profile := range s.profiles[evseID] {
		list = append(list, profile)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].StackLevel != list[j].StackLevel {
			return list[i].StackLevel > list[j].StackLevel
		}
		return list[i].Id < list[j].Id
	})
	return list
}

// CompositeSchedule 取当前有效且栈级最高的配置计算组合计划
func (s *ProfileStore) CompositeSchedule(evseID, duration int, unit *ocpp201.ChargingRateUnit) (*ocpp201.CompositeSchedule, error) {
	if _, ok := s.evses[evseID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEVSE, evseID)
	}

	now := s.now()
	candidates := s.Profiles(evseID)
	if evseID != 0 {
		candidates = append(candidates, s.Profiles(0)...)
	}

	for _, profile := range candidates {
		if profile.ValidFrom != nil && now.Before(*profile.ValidFrom) {
			continue
		}
		if profile.ValidTo != nil && now.After(*profile.ValidTo) {
			continue
		}
		if len(profile.ChargingSchedule) == 0 {
			continue
		}
		return compose(evseID, duration, now, profile.ChargingSchedule[0], unit), nil
	}
	return nil, ErrNoApplicableLimit
}

func compose(evseID, duration int, start time.Time, schedule ocpp201.ChargingSchedule, unit *ocpp201.ChargingRateUnit) *ocpp201.CompositeSchedule {
	target := schedule.ChargingRateUnit
	if unit != nil {
		target = *unit
	}

	var periods []ocpp201.ChargingSchedulePeriod
	for _, period := range schedule.ChargingSchedulePeriod {
		if duration > 0 && period.StartPeriod >= duration {
			break
		}
		period.Limit = convert(period.Limit, schedule.ChargingRateUnit, target, period.NumberPhases)
		periods = append(periods, period)
	}

	return &ocpp201.CompositeSchedule{
		EvseId:                 evseID,
		Duration:               duration,
		ScheduleStart:          start,
		ChargingRateUnit:       target,
		ChargingSchedulePeriod: periods,
	}
}

func convert(limit float64, from, to ocpp201.ChargingRateUnit, phases *int) float64 {
	if from == to {
		return limit
	}
	n := 3.0
	if phases != nil {
		n = float64(*phases)
	}
	if from == ocpp201.ChargingRateUnitA {
		return limit * nominalVoltage * n
	}
	return limit / (nominalVoltage * n)
}
