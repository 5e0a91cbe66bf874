package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"fxreport/internal/logging"
	"fxreport/internal/report"
)

// Notifier 定义报表投递接口。
type Notifier interface {
	Send(ctx context.Context, artifact report.Artifact, caption string) error
}

// ErrDelivery matches every failed delivery.
var ErrDelivery = errors.New("delivery failed")

// DeliveryError 描述某个渠道的投递失败。
type DeliveryError struct {
	Channel string
	Status  int
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("deliver via %s (%d): %v", e.Channel, e.Status, e.Err)
	}
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// Multi 将报表依次投递到所有渠道，每个渠道仅一次。
type Multi struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMulti 组合多个渠道。
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{
		notifiers: notifiers,
		logger:    logging.Component(logger, "alert_multi"),
	}
}

// Len reports the number of channels.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Send 投递到所有渠道；失败的渠道不影响其他渠道，错误合并返回。
func (m *Multi) Send(ctx context.Context, artifact report.Artifact, caption string) error {
	if len(m.notifiers) == 0 {
		return &DeliveryError{Channel: "none", Err: errors.New("no notifier channels configured")}
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, artifact, caption); err != nil {
			m.logger.Error().Err(err).Str("artifact", artifact.Name).Msg("报表投递失败")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Multi)(nil)
