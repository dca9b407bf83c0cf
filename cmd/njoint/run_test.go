package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/njoint/pkg/robot"
)

func TestParseGoals(t *testing.T) {
	goals, err := parseGoals([]string{"0.5,-0.5", " 1 , 0 "}, 2)
	require.NoError(t, err)
	assert.Equal(t, []robot.Vector{{0.5, -0.5}, {1, 0}}, goals)

	_, err = parseGoals([]string{"0.5"}, 2)
	assert.ErrorContains(t, err, "expected 2 values")

	_, err = parseGoals([]string{"a,b"}, 2)
	assert.Error(t, err)
}
