// Package telemetry runs the simulated robot fleet shown on the dashboard.
// The fleet mirrors the status of the first real robots but never feeds back
// into dispatch.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/events"
	"campusRobotDelivery/internal/geo"
	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/models"
)

const (
	// FleetSize is the number of simulated robots.
	FleetSize = 5
	// TickInterval is how often the simulation advances.
	TickInterval = 2 * time.Second

	roamRadiusMeters = 1200.0
	minSpeedMPS      = 0.8
	maxSpeedMPS      = 2.2
	drainPerMeter    = 0.01 // percent
	idleDrainPerSec  = 0.001
	chargePerSec     = 0.5
)

// CampusCenter is where the simulated robots start and roam around.
var CampusCenter = models.Location{Lat: 35.7847, Lng: -78.6821}

// SimRobot is one simulated robot as shown on the dashboard.
type SimRobot struct {
	ID             string             `json:"id"`
	LinkedRobotID  int64              `json:"linkedRobotId,omitempty"`
	Status         models.RobotStatus `json:"status"`
	Location       models.Location    `json:"location"`
	BatteryPercent float64            `json:"batteryPercent"`
	SpeedMPS       float64            `json:"speedMps"`
	HeadingDeg     float64            `json:"headingDeg"`
	OdometerMeters float64            `json:"odometerMeters"`
}

func (r SimRobot) moving() bool {
	return r.Status == models.RobotStatusAssigned || r.Status == models.RobotStatusEnRoute
}

// Snapshot is a copy of the fleet at one tick.
type Snapshot struct {
	Tick      uint64     `json:"tick"`
	Robots    []SimRobot `json:"robots"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// FleetUpdated is published when real robot statuses changed the mirror.
type FleetUpdated struct {
	Changed  []string `json:"changed"`
	Snapshot Snapshot `json:"snapshot"`
}

// RobotLister reads the real robots, ordered by id.
type RobotLister interface {
	ListRobots(ctx context.Context) ([]models.Robot, error)
}

type FleetOptions struct {
	// Size and Tick default to FleetSize and TickInterval.
	Size      int
	Tick      time.Duration
	Center    *models.Location
	Seed      int64
	Robots    RobotLister
	Publisher events.Publisher
	Logger    logrus.FieldLogger
}

// Fleet holds the simulated robots. All methods are safe for concurrent use.
type Fleet struct {
	opts   FleetOptions
	center models.Location
	log    logrus.FieldLogger

	mu     sync.RWMutex
	robots []SimRobot
	rng    *rand.Rand
	tick   uint64
	at     time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewFleet(opts FleetOptions) *Fleet {
	if opts.Size <= 0 {
		opts.Size = FleetSize
	}
	if opts.Tick <= 0 {
		opts.Tick = TickInterval
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	center := CampusCenter
	if opts.Center != nil {
		center = *opts.Center
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetAppLogger()
	}
	f := &Fleet{
		opts:   opts,
		center: center,
		log:    log.WithField("component", "telemetry"),
		rng:    rand.New(rand.NewSource(opts.Seed)),
		at:     time.Now().UTC(),
	}
	f.robots = make([]SimRobot, opts.Size)
	for i := range f.robots {
		lat, lng := geo.Offset(center.Lat, center.Lng, f.rng.NormFloat64()*150, f.rng.NormFloat64()*150)
		f.robots[i] = SimRobot{
			ID:             fmt.Sprintf("SIM-%02d", i+1),
			Status:         models.RobotStatusIdle,
			Location:       models.Location{Lat: lat, Lng: lng},
			BatteryPercent: 60 + f.rng.Float64()*40,
			HeadingDeg:     f.rng.Float64() * 360,
		}
	}
	return f
}

// Snapshot returns a copy of the current fleet.
func (f *Fleet) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *Fleet) snapshotLocked() Snapshot {
	return Snapshot{
		Tick:      f.tick,
		Robots:    append([]SimRobot(nil), f.robots...),
		UpdatedAt: f.at,
	}
}

// Step advances the simulation by dt: moving robots random-walk inside the
// roam radius and drain battery by distance, charging robots gain battery.
func (f *Fleet) Step(dt time.Duration) Snapshot {
	secs := dt.Seconds()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.robots {
		r := &f.robots[i]
		switch {
		case r.moving():
			r.SpeedMPS = clamp(r.SpeedMPS+f.rng.NormFloat64()*0.2, minSpeedMPS, maxSpeedMPS)
			r.HeadingDeg = math.Mod(r.HeadingDeg+f.rng.NormFloat64()*15+360, 360)
			if geo.HaversineMeters(r.Location.Lat, r.Location.Lng, f.center.Lat, f.center.Lng) > roamRadiusMeters {
				r.HeadingDeg = bearing(r.Location, f.center)
			}
			dist := r.SpeedMPS * secs
			rad := r.HeadingDeg * math.Pi / 180
			lat, lng := geo.Offset(r.Location.Lat, r.Location.Lng, dist*math.Cos(rad), dist*math.Sin(rad))
			r.Location = models.Location{Lat: lat, Lng: lng}
			r.OdometerMeters += dist
			r.BatteryPercent -= dist * drainPerMeter
		case r.Status == models.RobotStatusCharging:
			r.SpeedMPS = 0
			r.BatteryPercent += chargePerSec * secs
		default:
			r.SpeedMPS = 0
			r.BatteryPercent -= idleDrainPerSec * secs
		}
		r.BatteryPercent = clamp(r.BatteryPercent, 0, 100)
	}
	f.tick++
	f.at = time.Now().UTC()
	return f.snapshotLocked()
}

// Sync copies the status of real robot i onto simulated robot i for the
// first min(len) robots and reports which simulated robots changed. A
// non-empty change set is published on the fleet-updated topic.
func (f *Fleet) Sync(ctx context.Context, real []models.Robot) []string {
	f.mu.Lock()
	var changed []string
	for i := 0; i < len(f.robots) && i < len(real); i++ {
		r := &f.robots[i]
		if r.Status == real[i].Status && r.LinkedRobotID == real[i].ID {
			continue
		}
		r.Status = real[i].Status
		r.LinkedRobotID = real[i].ID
		changed = append(changed, r.ID)
	}
	var snap Snapshot
	if len(changed) > 0 {
		f.at = time.Now().UTC()
		snap = f.snapshotLocked()
	}
	f.mu.Unlock()

	if len(changed) > 0 {
		f.log.WithField("changed", changed).Debug("fleet mirror synced")
		if err := f.opts.Publisher.Publish(ctx, events.TopicFleetUpdated, FleetUpdated{Changed: changed, Snapshot: snap}); err != nil {
			f.log.WithError(err).Warn("publish fleet update failed")
		}
	}
	return changed
}

// Refresh re-reads the real robots and syncs the mirror. Failures are logged
// only; the mirror is display state.
func (f *Fleet) Refresh(ctx context.Context) {
	if f.opts.Robots == nil {
		return
	}
	robots, err := f.opts.Robots.ListRobots(ctx)
	if err != nil {
		f.log.WithError(err).Warn("refresh fleet mirror failed")
		return
	}
	f.Sync(ctx, robots)
}

// Start syncs once and then advances the simulation every tick.
func (f *Fleet) Start(ctx context.Context) {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.running {
		return
	}
	f.running = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.loop(ctx)
	f.log.WithFields(logrus.Fields{"size": len(f.robots), "tick": f.opts.Tick.String()}).Info("fleet simulation started")
}

func (f *Fleet) Stop() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	f.runMu.Unlock()
	f.wg.Wait()
}

func (f *Fleet) loop(ctx context.Context) {
	defer f.wg.Done()
	f.Refresh(ctx)
	ticker := time.NewTicker(f.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := f.Step(f.opts.Tick)
			if err := f.opts.Publisher.Publish(ctx, events.TopicFleetTick, snap); err != nil && ctx.Err() == nil {
				f.log.WithError(err).Warn("publish fleet tick failed")
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// bearing returns the initial compass bearing in degrees from a to b.
func bearing(a, b models.Location) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}
