package plen

import "sync"

// serialDriver forwards every call to the wrapped driver while holding a
// mutex, so that at most one call is in flight against the device.
type serialDriver struct {
	mu  sync.Mutex
	drv Driver
}

// Serialize wraps d so that concurrent callers are executed one at a time.
func Serialize(d Driver) Driver {
	if s, ok := d.(*serialDriver); ok {
		return s
	}
	return &serialDriver{drv: d}
}

func (s *serialDriver) Connect() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Connect()
}

func (s *serialDriver) Disconnect() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Disconnect()
}

func (s *serialDriver) GetMotion(slot int) (Motion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.GetMotion(slot)
}

func (s *serialDriver) Install(m Motion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Install(m)
}

func (s *serialDriver) Play(slot int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Play(slot)
}

func (s *serialDriver) Stop() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Stop()
}

func (s *serialDriver) VersionInformation() (VersionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.VersionInformation()
}

func (s *serialDriver) Upload(firmware []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Upload(firmware)
}

func (s *serialDriver) Apply(joint Joint, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Apply(joint, value)
}

func (s *serialDriver) ApplyDiff(joint Joint, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.ApplyDiff(joint, value)
}

func (s *serialDriver) ApplyNative(joint Joint, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.ApplyNative(joint, value)
}

func (s *serialDriver) SetMin(joint Joint, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.SetMin(joint, value)
}

func (s *serialDriver) SetMax(joint Joint, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.SetMax(joint, value)
}

func (s *serialDriver) SetHome(joint Joint, value int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.SetHome(joint, value)
}

func (s *serialDriver) ResetJointSettings() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.ResetJointSettings()
}
