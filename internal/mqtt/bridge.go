package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"droneDispatch/internal/auth"
	"droneDispatch/internal/dispatch"
	"droneDispatch/models"
)

// broker is the slice of Client the bridge needs; tests substitute a fake.
type broker interface {
	Publish(topic string, qos byte, retained bool, v any) error
	Subscribe(filter string, qos byte, handler func(topic string, payload []byte)) error
}

// Bridge wires broker traffic into the dispatch engine. Inbound messages are
// decoded, authenticated, and dispatched; malformed or unauthorized messages
// are logged and dropped so one bad client cannot poison the stream. All
// handlers are idempotent under the broker's at-least-once delivery.
type Bridge struct {
	broker    broker
	telemetry *dispatch.TelemetryService
	rescue    *dispatch.RescueService
	jwtSecret string
	log       *zap.Logger
}

func NewBridge(b broker, telemetry *dispatch.TelemetryService, rescue *dispatch.RescueService, jwtSecret string, log *zap.Logger) *Bridge {
	return &Bridge{broker: b, telemetry: telemetry, rescue: rescue, jwtSecret: jwtSecret, log: log}
}

// Start subscribes to the fleet-wide telemetry streams.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(heartbeatWildcard, QoSTelemetry, b.handleHeartbeat); err != nil {
		return err
	}
	return b.broker.Subscribe(statusWildcard, QoSTelemetry, b.handleStatus)
}

// SendCommand pushes an instruction to one drone with command-grade delivery.
func (b *Bridge) SendCommand(droneID string, cmd Command) error {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}
	return b.broker.Publish(DroneCommandTopic(droneID), QoSCommand, false, cmd)
}

func (b *Bridge) handleHeartbeat(topic string, payload []byte) {
	droneID, ok := ExtractDroneID(topic)
	if !ok {
		b.log.Warn("heartbeat on unroutable topic", zap.String("topic", topic))
		return
	}
	var msg HeartbeatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warn("dropping malformed heartbeat", zap.String("topic", topic), zap.Error(err))
		return
	}
	if msg.DroneID != "" && msg.DroneID != droneID {
		b.log.Warn("heartbeat drone id does not match its topic",
			zap.String("topic", topic), zap.String("payload_drone_id", msg.DroneID))
		return
	}
	ctx, err := b.callerContext(msg.Token, droneID)
	if err != nil {
		b.log.Warn("dropping unauthenticated heartbeat", zap.String("drone_id", droneID), zap.Error(err))
		return
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	loc := pointToLocation(msg.Location, ts)
	res, err := b.telemetry.Heartbeat(ctx, droneID, loc, msg.Battery, msg.Speed, ts)
	if err != nil {
		b.log.Warn("heartbeat rejected", zap.String("drone_id", droneID), zap.Error(err))
		return
	}

	ack := HeartbeatAck{
		Status:       string(res.Status),
		Instructions: res.Instructions,
		ServerTime:   res.ServerTime,
	}
	if res.CurrentJob != nil {
		ack.CurrentJob = &JobInfo{
			OrderID: res.CurrentJob.OrderID,
			DestLat: res.CurrentJob.Destination.Latitude,
			DestLon: res.CurrentJob.Destination.Longitude,
			ETA:     res.CurrentJob.ETA,
		}
	}
	if err := b.broker.Publish(AckTopic(topic), QoSTelemetry, false, ack); err != nil {
		b.log.Warn("heartbeat ack publish failed", zap.String("drone_id", droneID), zap.Error(err))
	}

	if res.CurrentJob != nil {
		bc := LocationBroadcast{
			OrderID:   res.CurrentJob.OrderID,
			DroneID:   droneID,
			Location:  msg.Location,
			Speed:     msg.Speed,
			ETA:       res.CurrentJob.ETA,
			Timestamp: ts,
		}
		if err := b.broker.Publish(OrderLocationTopic(res.CurrentJob.OrderID), QoSTelemetry, false, bc); err != nil {
			b.log.Warn("location broadcast failed", zap.String("order_id", res.CurrentJob.OrderID), zap.Error(err))
		}
	}
	if res.Instructions != "" {
		if err := b.SendCommand(droneID, Command{Type: CommandReturnToBase}); err != nil {
			b.log.Warn("command publish failed", zap.String("drone_id", droneID), zap.Error(err))
		}
	}
}

func (b *Bridge) handleStatus(topic string, payload []byte) {
	droneID, ok := ExtractDroneID(topic)
	if !ok {
		b.log.Warn("status report on unroutable topic", zap.String("topic", topic))
		return
	}
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warn("dropping malformed status report", zap.String("topic", topic), zap.Error(err))
		return
	}
	if msg.DroneID != "" && msg.DroneID != droneID {
		b.log.Warn("status report drone id does not match its topic",
			zap.String("topic", topic), zap.String("payload_drone_id", msg.DroneID))
		return
	}
	ctx, err := b.callerContext(msg.Token, droneID)
	if err != nil {
		b.log.Warn("dropping unauthenticated status report", zap.String("drone_id", droneID), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	loc := pointToLocation(msg.Location, now)

	switch msg.Status {
	case ReportBroken:
		_, err = b.rescue.ReportBroken(ctx, dispatch.BreakageReport{
			DroneID:  droneID,
			Location: loc,
			Issue:    msg.Issue,
			Severity: parseSeverity(msg.Severity),
		})
	case ReportPickedUp:
		_, err = b.telemetry.GrabOrder(ctx, droneID, loc)
	case ReportDelivered:
		_, err = b.telemetry.CompleteDelivery(ctx, droneID, loc)
	case ReportFailed:
		_, err = b.telemetry.FailDelivery(ctx, droneID, msg.Reason)
	default:
		b.log.Warn("unknown status report", zap.String("drone_id", droneID), zap.String("status", msg.Status))
		return
	}

	ack := StatusAck{Accepted: err == nil, ServerTime: time.Now().UTC()}
	if err != nil {
		ack.Error = err.Error()
		b.log.Warn("status report rejected",
			zap.String("drone_id", droneID),
			zap.String("status", msg.Status),
			zap.Error(err))
	}
	if perr := b.broker.Publish(AckTopic(topic), QoSTelemetry, false, ack); perr != nil {
		b.log.Warn("status ack publish failed", zap.String("drone_id", droneID), zap.Error(perr))
	}
}

// callerContext builds the authenticated context for a message. A token in
// the payload takes precedence; without one the identity in the topic path is
// trusted, on the assumption that the broker authenticates its clients.
func (b *Bridge) callerContext(token, droneID string) (context.Context, error) {
	if token != "" {
		p, err := auth.ParseBearer(token, b.jwtSecret)
		if err != nil {
			return nil, err
		}
		return auth.WithPrincipal(context.Background(), p), nil
	}
	return auth.WithPrincipal(context.Background(), &auth.Principal{Name: droneID, Kind: auth.KindDrone}), nil
}

func pointToLocation(p Point, ts time.Time) models.Location {
	return models.Location{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  p.Altitude,
		Timestamp: &ts,
	}
}

func parseSeverity(s string) models.Severity {
	switch models.Severity(s) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		return models.Severity(s)
	default:
		return models.SeverityMedium
	}
}
