package log_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/pipelined/livefx/log"
)

func TestGetLogger(t *testing.T) {
	log.SetDebug(true)
	assert.Equal(t, logrus.DebugLevel, log.GetLogger().GetLevel())
	log.SetDebug(false)
	assert.Equal(t, logrus.InfoLevel, log.GetLogger().GetLevel())

	var l log.Logger = log.With("effect", "fx")
	assert.NotNil(t, l)
}
