package gdbserver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replay-debug/gdbserver/gdbreq"
	rrlog "github.com/replay-debug/gdbserver/internal/log"
	"github.com/replay-debug/gdbserver/timeline/fake"
)

func TestRunEmergencySelectsFirstTaskAsCurrent(t *testing.T) {
	engine := fake.New(1, 10)
	conn := &fakeConn{}
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	s := NewEmergencyServer(conn, engine, rrlog.Nop{}, &bytes.Buffer{}, 1)

	err := s.RunEmergency()
	require.NoError(t, err)
	assert.Equal(t, engine.CurrentTaskID(), s.currentTask)
	assert.True(t, s.detached)
}

func TestRunEmergencyRestartAlwaysFails(t *testing.T) {
	engine := fake.New(1, 10)
	conn := &fakeConn{}
	conn.push(gdbreq.Request{Kind: gdbreq.KindRestart})
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	s := NewEmergencyServer(conn, engine, rrlog.Nop{}, &bytes.Buffer{}, 1)

	err := s.RunEmergency()
	require.NoError(t, err)
	_, ok := conn.last("RestartFailed")
	assert.True(t, ok)
}

func TestRunEmergencyResumeRequestReportsNoSuchThread(t *testing.T) {
	engine := fake.New(1, 10)
	conn := &fakeConn{}
	conn.push(gdbreq.Request{Kind: gdbreq.KindContinue, Cont: gdbreq.ContinueRequest{RunDirection: gdbreq.Forward}})
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	s := NewEmergencyServer(conn, engine, rrlog.Nop{}, &bytes.Buffer{}, 1)

	err := s.RunEmergency()
	require.NoError(t, err)
	_, ok := conn.last("NoSuchThread")
	assert.True(t, ok)
}

func TestRunEmergencyDispatchesOrdinaryRequests(t *testing.T) {
	engine := fake.New(1, 10)
	conn := &fakeConn{}
	conn.push(gdbreq.Request{Kind: gdbreq.KindGetCurrentThread})
	conn.push(gdbreq.Request{Kind: gdbreq.KindDetach})
	s := NewEmergencyServer(conn, engine, rrlog.Nop{}, &bytes.Buffer{}, 1)

	err := s.RunEmergency()
	require.NoError(t, err)
	_, ok := conn.last("GetCurrentThread")
	assert.True(t, ok)
}
