// Package runlog records acquisition activity and runs in a ClickHouse
// database. A Recorder that could not connect silently does nothing.
package runlog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "daqsync" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// Recorder holds the database connection and serializes inserts on one goroutine.
type Recorder struct {
	conn     clickhouse.Conn
	err      error
	activity *ActivityMessage
	runmsg   chan *RunMessage
	wg       sync.WaitGroup
	errLock  sync.Mutex
}

// NewID returns a new unique, time-ordered identifier for an activity or run.
func NewID() string {
	return ulid.Make().String()
}

// Disconnected returns a Recorder that records nothing.
func Disconnected() *Recorder {
	return &Recorder{}
}

// Start connects to the ClickHouse server at addr, records the activity
// start, and handles messages until abort is closed, when it records the
// activity end. Credentials come from DAQSYNC_DB_USER and DAQSYNC_DB_PASSWORD.
// If the server cannot be reached the Recorder is returned disconnected.
func Start(addr string, activity *ActivityMessage, abort <-chan struct{}) *Recorder {
	r := connect(addr)
	r.activity = activity
	if !r.IsConnected() {
		return r
	}
	r.logActivity()
	r.wg.Add(1)
	go r.handleConnection(abort)
	return r
}

func connect(addr string) *Recorder {
	r := &Recorder{}
	opt := clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("DAQSYNC_DB_USER"),
			Password: os.Getenv("DAQSYNC_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "daqsync", Version: "unknown"},
			},
		},
		DialTimeout: 2 * time.Second,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		r.err = err
		return r
	}
	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			err = fmt.Errorf("exception [%d] %s", exception.Code, exception.Message)
		}
		conn.Close()
		r.err = err
		return r
	}
	r.conn = conn
	r.runmsg = make(chan *RunMessage)
	return r
}

// IsConnected says whether the Recorder has a working database connection.
func (r *Recorder) IsConnected() bool {
	if r == nil || r.conn == nil {
		return false
	}
	r.errLock.Lock()
	defer r.errLock.Unlock()
	return r.err == nil
}

// Err returns the connection or insert error that disconnected the Recorder.
func (r *Recorder) Err() error {
	if r == nil {
		return nil
	}
	r.errLock.Lock()
	defer r.errLock.Unlock()
	return r.err
}

func (r *Recorder) setErr(err error) {
	r.errLock.Lock()
	defer r.errLock.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Wait blocks until the Recorder has stopped handling messages.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) handleConnection(abort <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-abort:
			r.activity.End = time.Now()
			r.logActivity()
			r.conn.Close()
			return
		case msg := <-r.runmsg:
			r.insertRun(msg)
		}
	}
}

// RecordRun stores a run row. It blocks until the message is accepted, so
// the row exists before any later update of the same run.
func (r *Recorder) RecordRun(msg *RunMessage) {
	if !r.IsConnected() || msg == nil {
		return
	}
	r.runmsg <- msg
}

// FinishRun stamps the run's end time and stores the final row.
func (r *Recorder) FinishRun(msg *RunMessage) {
	if msg == nil {
		return
	}
	msg.End = time.Now()
	r.RecordRun(msg)
}

func (r *Recorder) logActivity() {
	if !r.IsConnected() {
		return
	}
	const nowait = false
	a := r.activity
	if err := r.conn.AsyncInsert(context.Background(),
		`INSERT INTO activity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(timeFormat), a.End.Format(timeFormat),
	); err != nil {
		r.setErr(fmt.Errorf("insert into activity: %w", err))
	}
}

func (r *Recorder) insertRun(m *RunMessage) {
	if !r.IsConnected() {
		return
	}
	const nowait = false
	if err := r.conn.AsyncInsert(context.Background(),
		`INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, r.activity.ID, m.MasterDevice, m.SlaveDevice,
		m.MasterAnalog, m.SlaveAnalog, m.MasterDigital, m.SlaveDigital,
		m.SampleRate, m.BufferSize, m.Directory, m.Frames, m.Error,
		m.Start.Format(timeFormat), m.End.Format(timeFormat), time.Now().Format(timeFormat),
	); err != nil {
		r.setErr(fmt.Errorf("insert into runs: %w", err))
	}
}
