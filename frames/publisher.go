package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MotionExecutor moves the robot to a resolved target.
type MotionExecutor interface {
	MoveTo(ctx context.Context, cmd PoseCommand) error
}

var _ MotionExecutor = (*Publisher)(nil)

// Publisher sends pose commands to the motion executor over MQTT and tracks
// the status the executor reports back.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	timeout       time.Duration
	sent          map[string]PoseCommand  // by target name, latest only
	statuses      map[string]MotionStatus // commands in flight, or finished and not yet awaited
	waiters       map[string]chan MotionStatus
	mu            sync.RWMutex
}

// NewPublisher creates a command publisher.
// An empty prefix falls back to MQTT_PUBLISH_PREFIX, then "refframe".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = topicPrefix(nil)
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1, // commands must not be dropped
		retain:        false,
		timeout:       5 * time.Second,
		sent:          make(map[string]PoseCommand),
		statuses:      make(map[string]MotionStatus),
		waiters:       make(map[string]chan MotionStatus),
	}
}

// CommandTopic is the topic pose commands are published on
func (p *Publisher) CommandTopic() string {
	return p.publishPrefix + "/command"
}

// MoveTo publishes cmd and waits for the broker to accept it.
// It does not wait for the motion itself; use Await for that.
func (p *Publisher) MoveTo(ctx context.Context, cmd PoseCommand) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if cmd.Pose == nil && cmd.Joints == nil {
		return fmt.Errorf("command %s for %s has neither pose nor joints", cmd.ID, cmd.Target)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}

	// Track the id before publishing so a fast status reply is not dropped
	p.mu.Lock()
	p.statuses[cmd.ID] = MotionStatus{ID: cmd.ID, State: "sent"}
	p.mu.Unlock()

	if err := p.publish(ctx, cmd, payload); err != nil {
		p.mu.Lock()
		delete(p.statuses, cmd.ID)
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.sent[cmd.Target] = cmd
	p.mu.Unlock()

	log.Printf("[MQTT] sent %s move to %s (id %s)", cmd.Motion, cmd.Target, cmd.ID)
	return nil
}

func (p *Publisher) publish(ctx context.Context, cmd PoseCommand, payload []byte) error {
	topic := p.CommandTopic()
	token := p.client.Publish(topic, p.qos, p.retain, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("publishing %s: %w", cmd.Target, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("publishing to %s: timed out after %v", topic, p.timeout)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
	}
	return nil
}

// HandleStatus records an executor status. It is a StatusHandler.
// Statuses for commands this publisher did not send, and nobody awaits, are ignored.
func (p *Publisher) HandleStatus(status MotionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, waiting := p.waiters[status.ID]
	if _, tracked := p.statuses[status.ID]; !tracked && !waiting {
		return
	}
	if status.Terminal() && waiting {
		ch <- status
		delete(p.waiters, status.ID)
		delete(p.statuses, status.ID)
		return
	}
	p.statuses[status.ID] = status
}

// Await blocks until the executor reports command id as done or failed.
func (p *Publisher) Await(ctx context.Context, id string) (MotionStatus, error) {
	p.mu.Lock()
	if st, ok := p.statuses[id]; ok && st.Terminal() {
		delete(p.statuses, id)
		p.mu.Unlock()
		return st, statusError(st)
	}
	ch, ok := p.waiters[id]
	if !ok {
		ch = make(chan MotionStatus, 1)
		p.waiters[id] = ch
	}
	p.mu.Unlock()

	select {
	case st := <-ch:
		return st, statusError(st)
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.waiters, id)
		p.mu.Unlock()
		return MotionStatus{}, ctx.Err()
	}
}

func statusError(st MotionStatus) error {
	if st.State != "failed" {
		return nil
	}
	if st.Error == "" {
		return fmt.Errorf("command %s failed", st.ID)
	}
	return fmt.Errorf("command %s failed: %s", st.ID, st.Error)
}

// GetStatus returns the last status of a command that is in flight, or finished
// but not yet collected by Await
func (p *Publisher) GetStatus(id string) (MotionStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.statuses[id]
	return st, ok
}

// LastCommand returns the most recent command sent for a target
func (p *Publisher) LastCommand(target string) (PoseCommand, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cmd, ok := p.sent[target]
	return cmd, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetTimeout sets how long MoveTo waits for the broker
func (p *Publisher) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}
