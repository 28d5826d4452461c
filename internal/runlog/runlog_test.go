package runlog

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	id, err := ulid.Parse(a)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ulid.Time(id.Time()), time.Minute)
}

func TestDisconnected(t *testing.T) {
	r := Disconnected()
	assert.False(t, r.IsConnected())
	r.RecordRun(&RunMessage{ID: NewID()})
	r.FinishRun(&RunMessage{ID: NewID()})
	r.Wait()

	var nilRecorder *Recorder
	assert.False(t, nilRecorder.IsConnected())
	assert.NoError(t, nilRecorder.Err())
}

func TestUnreachableServer(t *testing.T) {
	abort := make(chan struct{})
	activity := &ActivityMessage{ID: NewID(), Start: time.Now()}
	// Nothing listens on port 1: the recorder must come back disconnected, not hang.
	r := Start("localhost:1", activity, abort)
	assert.False(t, r.IsConnected())
	assert.Error(t, r.Err())
	msg := &RunMessage{ID: NewID(), Start: time.Now()}
	r.FinishRun(msg)
	assert.False(t, msg.End.IsZero())
	close(abort)
	r.Wait()
}
