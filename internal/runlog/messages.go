package runlog

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the activity table: one row per
// run of the acquisition program.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the runs
// table: one row per acquisition session.
type RunMessage struct {
	ID            string
	MasterDevice  string
	SlaveDevice   string
	MasterAnalog  int // channel counts, 0 when the role is absent
	SlaveAnalog   int
	MasterDigital int
	SlaveDigital  int
	SampleRate    float64
	BufferSize    int
	Directory     string
	Frames        uint64
	Error         string
	Start         time.Time
	End           time.Time
}
