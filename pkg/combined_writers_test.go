package pkg

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestCombinedWriter_Write(t *testing.T) {
	sb1 := &strings.Builder{}
	initMessage := "already-here"
	sb1.WriteString(initMessage)
	sb2 := &strings.Builder{}

	cw := NewCombinedWriter(sb1, nil, sb2)
	require.NotNil(t, cw)
	assert.Len(t, cw.Writers, 2)

	msg1 := "a message"
	msg2 := "another message here"
	n, err := cw.Write([]byte(msg1))
	require.NoError(t, err)
	assert.Equal(t, len(msg1)*len(cw.Writers), n)
	n, err = cw.Write([]byte(msg2))
	require.NoError(t, err)
	assert.Equal(t, len(msg2)*len(cw.Writers), n)

	assert.Equal(t, initMessage+msg1+msg2, sb1.String())
	assert.Equal(t, msg1+msg2, sb2.String())
}

func TestCombinedWriter_Write_WithError(t *testing.T) {
	fw1 := &faultyWriter{}
	fw2 := &faultyWriter{}
	sb := &strings.Builder{}

	cw := NewCombinedWriter(fw1, sb, fw2)
	require.NotNil(t, cw)

	msg1 := "a message"
	n, err := cw.Write([]byte(msg1))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	// written only to string builder
	assert.Equal(t, len(msg1), n)
	assert.Equal(t, msg1, sb.String())
}

func TestCombinedWriter_Close(t *testing.T) {
	fw := &faultyWriter{}
	sb := &strings.Builder{}

	cw := NewCombinedWriter(sb, fw)
	require.Error(t, cw.Close())
	assert.True(t, fw.closed)
}

type faultyWriter struct {
	closed bool
}

func (fw *faultyWriter) Write(_ []byte) (n int, err error) {
	return 0, errors.New("broken pipe")
}

func (fw *faultyWriter) Close() error {
	fw.closed = true
	return errors.New("already closed")
}
