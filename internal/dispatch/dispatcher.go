package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/events"
	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

// Event sources.
const (
	SourcePoller = "poller"
	SourceHook   = "status_hook"
	SourceAdmin  = "admin"
)

// DefaultPollInterval is used when Options.PollInterval is not set.
const DefaultPollInterval = 15 * time.Second

// maxAssignAttempts bounds re-selection after losing a robot to a concurrent claim.
const maxAssignAttempts = 3

// Scheduler arms and cancels automatic lifecycle transitions.
type Scheduler interface {
	Schedule(ctx context.Context, order models.Order) bool
	Cancel(ctx context.Context, orderID int64) bool
}

// FleetRefresher mirrors robot state changes into the telemetry fleet.
type FleetRefresher interface {
	Refresh(ctx context.Context)
}

type Options struct {
	PollInterval time.Duration
	// Scheduler is nil when order automation is disabled.
	Scheduler Scheduler
	Fleet     FleetRefresher
	Publisher events.Publisher
	Logger    logrus.FieldLogger
}

// Dispatcher owns robot assignment: the polling loop, on-demand assignment
// when an order becomes READY, and robot release on delivery or cancellation.
type Dispatcher struct {
	store     repository.DispatchStore
	selector  *Selector
	scheduler Scheduler
	fleet     FleetRefresher
	pub       events.Publisher
	log       logrus.FieldLogger
	interval  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(store repository.DispatchStore, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetAppLogger()
	}
	return &Dispatcher{
		store:     store,
		selector:  NewSelector(store),
		scheduler: opts.Scheduler,
		fleet:     opts.Fleet,
		pub:       opts.Publisher,
		log:       log.WithField("component", "dispatch"),
		interval:  opts.PollInterval,
	}
}

// Assign binds robotID to orderID in one atomic step, then arms the
// EN_ROUTE timer and announces the assignment.
func (d *Dispatcher) Assign(ctx context.Context, orderID, robotID int64, source string) (*models.Order, error) {
	if err := d.store.AssignRobot(ctx, orderID, robotID); err != nil {
		return nil, err
	}
	order, err := d.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"robot_id": robotID,
		"source":   source,
	}).Info("robot assigned to order")

	if d.scheduler != nil {
		d.scheduler.Schedule(ctx, *order)
	}
	at := time.Now().UTC()
	d.publish(ctx, events.TopicOrderAssigned, events.OrderAssigned{OrderID: orderID, RobotID: robotID, Source: source, At: at})
	d.publish(ctx, events.TopicOrderStatusChanged, events.OrderStatusChanged{
		OrderID: orderID,
		From:    models.OrderStatusReady,
		To:      models.OrderStatusAssigned,
		RobotID: order.RobotID,
		Source:  source,
		At:      at,
	})
	return order, nil
}

// TryAssign assigns the nearest available robot to an eligible order. It
// returns the robot, or nil when the order is not eligible or no robot is
// free. Losing a robot to a concurrent claim triggers a fresh selection.
func (d *Dispatcher) TryAssign(ctx context.Context, order models.Order, source string) (*models.Robot, error) {
	if order.Status != models.OrderStatusReady || order.RobotID != nil || !order.HasCoordinates() {
		return nil, nil
	}
	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		robot, err := d.selector.FindNearestAvailable(ctx, *order.DeliveryLat, *order.DeliveryLng)
		if err != nil {
			return nil, err
		}
		if robot == nil {
			d.log.WithField("order_id", order.ID).Debug("no available robot for order")
			return nil, nil
		}
		_, err = d.Assign(ctx, order.ID, robot.ID, source)
		switch {
		case err == nil:
			return robot, nil
		case errors.Is(err, repository.ErrRobotUnavailable):
			d.log.WithFields(logrus.Fields{"order_id": order.ID, "robot_id": robot.ID}).Debug("robot claimed concurrently; reselecting")
		case errors.Is(err, repository.ErrOrderNotAssignable):
			return nil, nil
		default:
			return nil, err
		}
	}
	return nil, nil
}

func (d *Dispatcher) publish(ctx context.Context, topic string, payload any) {
	if err := d.pub.Publish(ctx, topic, payload); err != nil {
		d.log.WithError(err).WithField("topic", topic).Warn("publish event failed")
	}
}

func (d *Dispatcher) refreshFleet(ctx context.Context) {
	if d.fleet != nil {
		d.fleet.Refresh(ctx)
	}
}
