package browser_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser/browsertest"
)

var fastWait = browser.WaitOptions{
	Initial:  30 * time.Millisecond,
	Extended: 120 * time.Millisecond,
	Interval: 5 * time.Millisecond,
}

func TestWaitVisibleImmediate(t *testing.T) {
	p := browsertest.NewPage()
	p.Show("#hero")

	ok, err := browser.WaitVisible(context.Background(), p, "#hero", fastWait)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitVisibleExtendsOnce(t *testing.T) {
	p := browsertest.NewPage()
	go func() {
		time.Sleep(60 * time.Millisecond) // after initial, within extended
		p.Show("#late")
	}()

	start := time.Now()
	ok, err := browser.WaitVisible(context.Background(), p, "#late", fastWait)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWaitVisibleGivesUp(t *testing.T) {
	p := browsertest.NewPage()
	ok, err := browser.WaitVisible(context.Background(), p, "#never", fastWait)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitVisibleHonorsContext(t *testing.T) {
	p := browsertest.NewPage()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := browser.WaitVisible(ctx, p, "#never", browser.DefaultWait)
	assert.Error(t, err)
}

func TestWaitForCondition(t *testing.T) {
	n := 0
	ok, err := browser.WaitFor(context.Background(), fastWait, func(context.Context) (bool, error) {
		n++
		return n >= 3, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
}
