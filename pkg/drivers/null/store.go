package null

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"plen/pkg/plen"

	bolt "go.etcd.io/bbolt"
)

const (
	motionsBucket  = "null_motions"
	jointsBucket   = "null_joints"
	firmwareBucket = "null_firmware"

	firmwareKey = "last_upload"
)

// FirmwareRecord remembers the last image handed to Upload.
type FirmwareRecord struct {
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type store struct {
	db *bolt.DB
}

// NewStore creates the buckets used by the null driver.
func NewStore(db *bolt.DB) (*store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{motionsBucket, jointsBucket, firmwareBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

func slotKey(slot int) []byte {
	return []byte(strconv.Itoa(slot))
}

// GetMotion returns the motion stored at slot, or the empty motion when
// the slot was never written.
func (s *store) GetMotion(slot int) (plen.Motion, error) {
	m := plen.EmptyMotion(slot)

	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(motionsBucket)).Get(slotKey(slot))
		if value == nil {
			return nil
		}
		return json.Unmarshal(value, &m)
	})

	return m, err
}

// PutMotion saves m under its own slot.
func (s *store) PutMotion(m plen.Motion) error {
	value, err := json.Marshal(m.Normalized())
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(motionsBucket)).Put(slotKey(m.Slot), value)
	})
}

// GetJointSettings returns the calibration of every output, filling in
// factory defaults for outputs never calibrated.
func (s *store) GetJointSettings() ([plen.JointOutputs]plen.JointSetting, error) {
	var settings [plen.JointOutputs]plen.JointSetting
	for i := range settings {
		settings[i] = plen.DefaultJointSetting()
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(jointsBucket)).ForEach(func(k, v []byte) error {
			n, err := strconv.Atoi(string(k))
			if err != nil || !plen.Joint(n).Valid() {
				return fmt.Errorf("corrupt joint key %q", k)
			}
			return json.Unmarshal(v, &settings[n])
		})
	})

	return settings, err
}

func (s *store) PutJointSetting(j plen.Joint, setting plen.JointSetting) error {
	value, err := json.Marshal(setting)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(jointsBucket)).Put(slotKey(int(j)), value)
	})
}

// ResetJointSettings drops every stored calibration.
func (s *store) ResetJointSettings() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(jointsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(jointsBucket))
		return err
	})
}

func (s *store) PutFirmware(rec FirmwareRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(firmwareBucket)).Put([]byte(firmwareKey), value)
	})
}

func (s *store) GetFirmware() (FirmwareRecord, bool, error) {
	var rec FirmwareRecord
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(firmwareBucket)).Get([]byte(firmwareKey))
		if value == nil {
			return nil
		}
		found = true
		return json.Unmarshal(value, &rec)
	})

	return rec, found, err
}
