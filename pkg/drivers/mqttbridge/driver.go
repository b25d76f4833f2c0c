// Package mqttbridge drives a physical PLEN through a bridge process that
// owns the USB link to the robot and exchanges JSON requests and responses
// with the control server over MQTT.
package mqttbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"plen/pkg/plen"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var errTimeout = errors.New("timeout waiting for response")

// createMQTTClient connects a new MQTT client to the configured broker.
func createMQTTClient(cfg Config, onLost mqtt.ConnectionLostHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID(cfg.ClientID)
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(cfg.timeout())
	opts.SetConnectionLostHandler(onLost)

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return mqttClient, nil
}

// Driver is a plen.Driver backed by an MQTT bridge.
type Driver struct {
	store  *store
	logger log.FieldLogger

	client mqtt.Client // nil while disconnected
	cfg    Config      // configuration of the current connection

	mu      sync.Mutex // protects nextID and pending
	nextID  uint64
	pending map[uint64]chan Response
}

var _ plen.Driver = (*Driver)(nil)

func NewDriver(db *bolt.DB, logger log.FieldLogger) (*Driver, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &Driver{
		store:   store,
		logger:  logger.WithField("component", "mqttbridge"),
		pending: make(map[uint64]chan Response),
	}, nil
}

// Config returns the stored bridge configuration.
func (d *Driver) Config() (Config, error) {
	return d.store.GetConfig()
}

// SetConfig stores cfg. It takes effect on the next Connect.
func (d *Driver) SetConfig(cfg Config) error {
	return d.store.SetConfig(cfg)
}

func (d *Driver) Close() {
	d.logger.Info("Closing MQTT bridge driver")
	if d.client == nil {
		return
	}
	if _, err := d.Disconnect(); err != nil {
		d.logger.Errorf("failed to disconnect: %v", err)
	}
}

// Connect dials the broker and greets the bridge. It returns false when
// the bridge does not answer, which means no robot is reachable.
func (d *Driver) Connect() (bool, error) {
	if d.client != nil {
		return true, nil
	}

	cfg, err := d.store.GetConfig()
	if err != nil {
		return false, plen.NewDriverError("connect", fmt.Errorf("failed to get bridge config: %w", err))
	}

	client, err := createMQTTClient(cfg, d.connectionLost)
	if err != nil {
		return false, plen.NewDriverError("connect", err)
	}

	if token := client.Subscribe(cfg.responseTopic(), 1, d.responseHandler); token.Wait() && token.Error() != nil {
		client.Disconnect(100)
		return false, plen.NewDriverError("connect", fmt.Errorf("failed to subscribe to %s: %w", cfg.responseTopic(), token.Error()))
	}

	d.client = client
	d.cfg = cfg

	if _, err := d.call(Request{Op: opHello}); err != nil {
		d.teardown()
		if errors.Is(err, errTimeout) {
			d.logger.Infof("No bridge answered on %s", cfg.commandTopic())
			return false, nil
		}
		return false, plen.NewDriverError("connect", err)
	}

	d.logger.Infof("Connected to PLEN bridge via %s", cfg.Broker)
	return true, nil
}

func (d *Driver) Disconnect() (bool, error) {
	if d.client == nil {
		return false, nil
	}

	// The bridge may already be gone; disconnecting proceeds regardless.
	if _, err := d.call(Request{Op: opGoodbye}); err != nil {
		d.logger.Warnf("Bridge did not acknowledge disconnect: %v", err)
	}
	d.teardown()

	d.logger.Info("Disconnected from PLEN bridge")
	return true, nil
}

func (d *Driver) teardown() {
	if token := d.client.Unsubscribe(d.cfg.responseTopic()); token.Wait() && token.Error() != nil {
		d.logger.Warnf("Failed to unsubscribe: %v", token.Error())
	}
	d.client.Disconnect(250)
	d.client = nil

	d.mu.Lock()
	for id, ch := range d.pending {
		close(ch)
		delete(d.pending, id)
	}
	d.mu.Unlock()
}

func (d *Driver) connectionLost(_ mqtt.Client, err error) {
	d.logger.Warnf("Lost connection to MQTT broker: %v", err)
}

// call publishes req and waits for the matching response.
func (d *Driver) call(req Request) (json.RawMessage, error) {
	if d.client == nil {
		return nil, plen.ErrNotConnected
	}

	ch := make(chan Response, 1)
	d.mu.Lock()
	d.nextID++
	req.ID = d.nextID
	d.pending[req.ID] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, req.ID)
		d.mu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	d.logger.Debugf("Sending %s request %d", req.Op, req.ID)
	if token := d.client.Publish(d.cfg.commandTopic(), 1, false, payload); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to publish command: %w", token.Error())
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, plen.ErrNotConnected
		}
		if !resp.OK {
			return nil, fmt.Errorf("bridge rejected %s: %s", req.Op, resp.Error)
		}
		return resp.Result, nil

	case <-time.After(d.cfg.timeout()):
		return nil, errTimeout
	}
}

func (d *Driver) responseHandler(_ mqtt.Client, msg mqtt.Message) {
	resp, err := parseResponse(msg.Payload())
	if err != nil {
		d.logger.Errorf("Failed to parse response: %v", err)
		return
	}

	// Deliver under the lock so teardown cannot close ch concurrently.
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.pending[resp.ID]
	if !ok {
		d.logger.Warnf("Dropping response %d with no pending request", resp.ID)
		return
	}

	select {
	case ch <- resp:
	default:
		d.logger.Warnf("Duplicate response %d", resp.ID)
	}
}

func (d *Driver) callBool(req Request) (bool, error) {
	raw, err := d.call(req)
	if err != nil {
		return false, plen.NewDriverError(req.Op, err)
	}
	ok, err := decodeBool(raw)
	if err != nil {
		return false, plen.NewDriverError(req.Op, err)
	}
	return ok, nil
}

func (d *Driver) GetMotion(slot int) (plen.Motion, error) {
	if !plen.ValidSlot(slot) {
		return plen.Motion{}, fmt.Errorf("%w: %d", plen.ErrInvalidSlot, slot)
	}

	raw, err := d.call(Request{Op: "getMotion", Args: []int{slot}})
	if err != nil {
		return plen.Motion{}, plen.NewDriverError("getMotion", err)
	}

	m := plen.EmptyMotion(slot)
	if len(raw) != 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &m); err != nil {
			return plen.Motion{}, plen.NewDriverError("getMotion", fmt.Errorf("invalid motion: %w", err))
		}
	}
	if m.Slot != slot {
		return plen.Motion{}, plen.NewDriverError("getMotion", fmt.Errorf("bridge returned slot %d for slot %d", m.Slot, slot))
	}
	return m.Normalized(), nil
}

func (d *Driver) Install(m plen.Motion) (bool, error) {
	if err := m.Validate(); err != nil {
		d.logger.Warnf("Rejecting motion for slot %d: %v", m.Slot, err)
		return false, nil
	}
	m = m.Normalized()
	return d.callBool(Request{Op: "install", Motion: &m})
}

func (d *Driver) Play(slot int) (bool, error) {
	if !plen.ValidSlot(slot) {
		return false, nil
	}
	return d.callBool(Request{Op: "play", Args: []int{slot}})
}

func (d *Driver) Stop() (bool, error) {
	return d.callBool(Request{Op: "stop"})
}

func (d *Driver) VersionInformation() (plen.VersionInfo, error) {
	var info plen.VersionInfo

	raw, err := d.call(Request{Op: "getVersionInformation"})
	if err != nil {
		return info, plen.NewDriverError("getVersionInformation", err)
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, plen.NewDriverError("getVersionInformation", fmt.Errorf("invalid version: %w", err))
	}
	return info, nil
}

func (d *Driver) Upload(firmware []byte) (bool, error) {
	if len(firmware) == 0 {
		return false, nil
	}
	return d.callBool(Request{Op: "upload", Firmware: firmware})
}

func (d *Driver) jointCall(op string, j plen.Joint, value int) (bool, error) {
	if !j.Valid() {
		return false, &plen.DriverError{Op: op, Err: fmt.Errorf("joint out of range: %d", j)}
	}
	return d.callBool(Request{Op: op, Args: []int{int(j), value}})
}

func (d *Driver) Apply(j plen.Joint, value int) (bool, error) {
	return d.jointCall("apply", j, value)
}

func (d *Driver) ApplyDiff(j plen.Joint, value int) (bool, error) {
	return d.jointCall("applyDiff", j, value)
}

func (d *Driver) ApplyNative(j plen.Joint, value int) (bool, error) {
	return d.jointCall("applyNative", j, value)
}

func (d *Driver) SetMin(j plen.Joint, value int) (bool, error) {
	return d.jointCall("setMin", j, value)
}

func (d *Driver) SetMax(j plen.Joint, value int) (bool, error) {
	return d.jointCall("setMax", j, value)
}

func (d *Driver) SetHome(j plen.Joint, value int) (bool, error) {
	return d.jointCall("setHome", j, value)
}

func (d *Driver) ResetJointSettings() (bool, error) {
	return d.callBool(Request{Op: "resetJointSettings"})
}
