package safe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRecovers(t *testing.T) {
	var got error
	assert.NotPanics(t, func() {
		Run(func() { panic("boom") }, func(err error) { got = err })
	})
	assert.ErrorContains(t, got, "boom")
}

func TestGoRecovers(t *testing.T) {
	done := make(chan error, 1)
	Go(func() { panic("async boom") }, func(err error) { done <- err })
	assert.ErrorContains(t, <-done, "async boom")
}
