package plen

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// fakeDriver records every call and keeps motions in memory.
type fakeDriver struct {
	mu          sync.Mutex
	present     bool
	connectErr  error
	failOp      string // operation that fails with errFake
	calls       []string
	disconnects int
	motions     map[int]Motion
}

var errFake = errors.New("servo bus fault")

func newFakeDriver() *fakeDriver {
	return &fakeDriver{present: true, motions: map[int]Motion{}}
}

func (f *fakeDriver) record(op string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := []string{op}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	f.calls = append(f.calls, strings.Join(parts, " "))

	if op == f.failOp {
		return errFake
	}
	return nil
}

func (f *fakeDriver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDriver) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeDriver) Connect() (bool, error) {
	if err := f.record("connect"); err != nil {
		return false, err
	}
	if f.connectErr != nil {
		return false, f.connectErr
	}
	return f.present, nil
}

func (f *fakeDriver) Disconnect() (bool, error) {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return true, f.record("disconnect")
}

func (f *fakeDriver) GetMotion(slot int) (Motion, error) {
	if err := f.record("getMotion", slot); err != nil {
		return Motion{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.motions[slot]; ok {
		return m, nil
	}
	return EmptyMotion(slot), nil
}

func (f *fakeDriver) Install(m Motion) (bool, error) {
	if err := f.record("install", m.Slot); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.motions[m.Slot] = m.Normalized()
	return true, nil
}

func (f *fakeDriver) Play(slot int) (bool, error) {
	if err := f.record("play", slot); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.motions[slot]
	return ok && !m.IsEmpty(), nil
}

func (f *fakeDriver) Stop() (bool, error) {
	return true, f.record("stop")
}

func (f *fakeDriver) VersionInformation() (VersionInfo, error) {
	return VersionInfo{Device: "PLEN2", CodeName: "Fake", Version: "1.4.1"}, f.record("getVersionInformation")
}

func (f *fakeDriver) Upload(firmware []byte) (bool, error) {
	return len(firmware) > 0, f.record("upload", len(firmware))
}

func (f *fakeDriver) Apply(j Joint, value int) (bool, error) {
	return true, f.record("apply", j, value)
}

func (f *fakeDriver) ApplyDiff(j Joint, value int) (bool, error) {
	return true, f.record("applyDiff", j, value)
}

func (f *fakeDriver) ApplyNative(j Joint, value int) (bool, error) {
	return true, f.record("applyNative", j, value)
}

func (f *fakeDriver) SetMin(j Joint, value int) (bool, error) {
	return true, f.record("setMin", j, value)
}

func (f *fakeDriver) SetMax(j Joint, value int) (bool, error) {
	return true, f.record("setMax", j, value)
}

func (f *fakeDriver) SetHome(j Joint, value int) (bool, error) {
	return true, f.record("setHome", j, value)
}

func (f *fakeDriver) ResetJointSettings() (bool, error) {
	return true, f.record("resetJointSettings")
}

// playableMotion returns a one frame motion for slot.
func playableMotion(slot int) Motion {
	return Motion{
		Slot:  slot,
		Name:  "Wave",
		Codes: []Code{},
		Frames: []Frame{
			{TransitionTime: 200, Outputs: []Output{{Device: "left_shoulder_pitch", Value: 300}}},
		},
	}
}
