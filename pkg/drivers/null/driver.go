// Package null implements a PLEN driver without any hardware attached.
// Motions, joint calibration and uploaded firmware metadata are kept in
// bbolt so that the development setup survives restarts.
package null

import (
	"fmt"
	"time"

	"plen/pkg/plen"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	deviceName    = "PLEN2"
	codeName      = "NullDriver"
	driverVersion = "1.4.1"

	notPlaying = -1
)

// Driver implements plen.Driver with no physical side effects.
type Driver struct {
	store  *store
	logger log.FieldLogger

	connected bool
	playing   int
	angles    [plen.JointOutputs]int
	native    [plen.JointOutputs]int
}

var _ plen.Driver = (*Driver)(nil)

func NewDriver(db *bolt.DB, logger log.FieldLogger) (*Driver, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &Driver{
		store:   store,
		logger:  logger,
		playing: notPlaying,
	}, nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing null driver")
	d.connected = false
}

func (d *Driver) checkConnected(op string) error {
	if !d.connected {
		return &plen.DriverError{Op: op, Err: plen.ErrNotConnected}
	}
	return nil
}

func (d *Driver) Connect() (bool, error) {
	d.connected = true
	d.logger.Info("Null driver connected")
	return true, nil
}

func (d *Driver) Disconnect() (bool, error) {
	if !d.connected {
		return false, nil
	}
	d.connected = false
	d.playing = notPlaying
	d.logger.Info("Null driver disconnected")
	return true, nil
}

// Connected reports whether Connect has been called without a matching
// Disconnect.
func (d *Driver) Connected() bool {
	return d.connected
}

func (d *Driver) GetMotion(slot int) (plen.Motion, error) {
	if err := d.checkConnected("getMotion"); err != nil {
		return plen.Motion{}, err
	}
	if !plen.ValidSlot(slot) {
		return plen.Motion{}, fmt.Errorf("%w: %d", plen.ErrInvalidSlot, slot)
	}

	m, err := d.store.GetMotion(slot)
	if err != nil {
		return plen.Motion{}, plen.NewDriverError("getMotion", err)
	}
	return m, nil
}

func (d *Driver) Install(m plen.Motion) (bool, error) {
	if err := d.checkConnected("install"); err != nil {
		return false, err
	}
	if err := m.Validate(); err != nil {
		d.logger.Warnf("Rejecting motion for slot %d: %v", m.Slot, err)
		return false, nil
	}

	if err := d.store.PutMotion(m); err != nil {
		return false, plen.NewDriverError("install", err)
	}
	d.logger.Infof("Installed motion %q at slot %d (%d frames)", m.Name, m.Slot, len(m.Frames))
	return true, nil
}

func (d *Driver) Play(slot int) (bool, error) {
	if err := d.checkConnected("play"); err != nil {
		return false, err
	}
	if !plen.ValidSlot(slot) {
		return false, nil
	}

	m, err := d.store.GetMotion(slot)
	if err != nil {
		return false, plen.NewDriverError("play", err)
	}
	if m.IsEmpty() {
		d.logger.Infof("Slot %d is empty, nothing to play", slot)
		return false, nil
	}

	d.playing = slot
	d.logger.Infof("Playing motion %q at slot %d", m.Name, slot)
	return true, nil
}

func (d *Driver) Stop() (bool, error) {
	if err := d.checkConnected("stop"); err != nil {
		return false, err
	}
	d.playing = notPlaying
	d.logger.Info("Motion stopped")
	return true, nil
}

// Playing returns the slot being played, if any.
func (d *Driver) Playing() (int, bool) {
	return d.playing, d.playing != notPlaying
}

func (d *Driver) VersionInformation() (plen.VersionInfo, error) {
	return plen.VersionInfo{
		Device:   deviceName,
		CodeName: codeName,
		Version:  driverVersion,
	}, nil
}

func (d *Driver) Upload(firmware []byte) (bool, error) {
	if err := d.checkConnected("upload"); err != nil {
		return false, err
	}
	if len(firmware) == 0 {
		return false, nil
	}

	rec := FirmwareRecord{Size: len(firmware), UploadedAt: time.Now().UTC()}
	if err := d.store.PutFirmware(rec); err != nil {
		return false, plen.NewDriverError("upload", err)
	}
	d.logger.Infof("Received firmware image of %d bytes", len(firmware))
	return true, nil
}

// LastUpload returns the metadata of the last uploaded firmware image.
func (d *Driver) LastUpload() (FirmwareRecord, bool, error) {
	return d.store.GetFirmware()
}

func (d *Driver) jointSetting(op string, j plen.Joint) (plen.JointSetting, error) {
	if err := d.checkConnected(op); err != nil {
		return plen.JointSetting{}, err
	}
	if !j.Valid() {
		return plen.JointSetting{}, &plen.DriverError{Op: op, Err: fmt.Errorf("joint out of range: %d", j)}
	}

	settings, err := d.store.GetJointSettings()
	if err != nil {
		return plen.JointSetting{}, plen.NewDriverError(op, err)
	}
	return settings[j], nil
}

// Angle returns the last angle applied to j.
func (d *Driver) Angle(j plen.Joint) int {
	if !j.Valid() {
		return 0
	}
	return d.angles[j]
}

func (d *Driver) Apply(j plen.Joint, value int) (bool, error) {
	setting, err := d.jointSetting("apply", j)
	if err != nil {
		return false, err
	}
	if !setting.Contains(value) {
		d.logger.Debugf("Angle %d out of range for %s", value, j)
		return false, nil
	}

	d.angles[j] = value
	d.logger.Debugf("Apply %s = %d", j, value)
	return true, nil
}

func (d *Driver) ApplyDiff(j plen.Joint, value int) (bool, error) {
	setting, err := d.jointSetting("applyDiff", j)
	if err != nil {
		return false, err
	}

	angle := setting.Home + value
	if !setting.Contains(angle) {
		d.logger.Debugf("Angle %d out of range for %s", angle, j)
		return false, nil
	}

	d.angles[j] = angle
	d.logger.Debugf("Apply %s = home%+d", j, value)
	return true, nil
}

func (d *Driver) ApplyNative(j plen.Joint, value int) (bool, error) {
	if _, err := d.jointSetting("applyNative", j); err != nil {
		return false, err
	}
	d.native[j] = value
	d.logger.Debugf("Apply native %s = %d", j, value)
	return true, nil
}

func (d *Driver) updateSetting(op string, j plen.Joint, update func(*plen.JointSetting)) (bool, error) {
	setting, err := d.jointSetting(op, j)
	if err != nil {
		return false, err
	}

	update(&setting)
	if setting.Min > setting.Max {
		d.logger.Warnf("Rejecting %s for %s: min %d above max %d", op, j, setting.Min, setting.Max)
		return false, nil
	}

	if err := d.store.PutJointSetting(j, setting); err != nil {
		return false, plen.NewDriverError(op, err)
	}
	d.logger.Infof("%s %s: %+v", op, j, setting)
	return true, nil
}

func (d *Driver) SetMin(j plen.Joint, value int) (bool, error) {
	return d.updateSetting("setMin", j, func(s *plen.JointSetting) { s.Min = value })
}

func (d *Driver) SetMax(j plen.Joint, value int) (bool, error) {
	return d.updateSetting("setMax", j, func(s *plen.JointSetting) { s.Max = value })
}

func (d *Driver) SetHome(j plen.Joint, value int) (bool, error) {
	return d.updateSetting("setHome", j, func(s *plen.JointSetting) { s.Home = value })
}

func (d *Driver) ResetJointSettings() (bool, error) {
	if err := d.checkConnected("resetJointSettings"); err != nil {
		return false, err
	}
	if err := d.store.ResetJointSettings(); err != nil {
		return false, plen.NewDriverError("resetJointSettings", err)
	}
	d.logger.Info("Joint settings reset to defaults")
	return true, nil
}
