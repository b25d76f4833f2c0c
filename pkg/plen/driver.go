package plen

// VersionInfo describes the firmware running on the robot.
type VersionInfo struct {
	Device   string `json:"device"`
	CodeName string `json:"codename"`
	Version  string `json:"version"`
}

// Driver is the capability set every PLEN driver must provide.
// All operations are synchronous and may block on physical I/O.
// Hardware faults are reported as *DriverError.
type Driver interface {
	// Connect opens the link to the robot. It returns false, with a nil
	// error, when no robot is attached.
	Connect() (bool, error)
	Disconnect() (bool, error)

	GetMotion(slot int) (Motion, error)
	Install(m Motion) (bool, error)
	Play(slot int) (bool, error)
	Stop() (bool, error)

	VersionInformation() (VersionInfo, error)
	Upload(firmware []byte) (bool, error)

	// Joint level operations
	Apply(joint Joint, value int) (bool, error)
	ApplyDiff(joint Joint, value int) (bool, error)
	ApplyNative(joint Joint, value int) (bool, error)
	SetMin(joint Joint, value int) (bool, error)
	SetMax(joint Joint, value int) (bool, error)
	SetHome(joint Joint, value int) (bool, error)
	ResetJointSettings() (bool, error)
}
