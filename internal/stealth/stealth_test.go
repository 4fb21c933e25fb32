package stealth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser/browsertest"
)

func testFingerprint() browser.Fingerprint {
	return browser.Fingerprint{
		Persona:         browser.Desktop,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.2903.86",
		SecCHUA:         `"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecCHUAMobile:   "?0",
		SecCHUAPlatform: `"Windows"`,
		Viewport:        browser.Viewport{Width: 1920, Height: 960},
		ScreenWidth:     1920,
		ScreenHeight:    1080,
		WebGLVendor:     "Google Inc. (NVIDIA)",
		WebGLRenderer:   "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	}
}

func testScriptConfig() ScriptConfig {
	return ScriptConfig{
		Timezone:            "America/New_York",
		Locale:              "en-US",
		WebGLVendor:         "Google Inc. (NVIDIA)",
		WebGLRenderer:       "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		ViewportWidth:       1920,
		ViewportHeight:      960,
		DeviceScaleFactor:   1.25,
		HardwareConcurrency: 8,
		DeviceMemory:        16,
	}
}

func TestFullScriptCoversEverySpoofVector(t *testing.T) {
	script := FullScript(testScriptConfig())

	vectors := map[string]string{
		"webdriver removal":  "webdriver",
		"window.chrome":      "window.chrome",
		"canvas noise":       "getImageData",
		"webgl vendor":       "37445",
		"webgl renderer":     "37446",
		"audio noise":        "getChannelData",
		"hardware cores":     "hardwareConcurrency",
		"device memory":      "deviceMemory",
		"plugin list":        "plugins",
		"webrtc block":       "RTCPeerConnection",
		"battery":            "getBattery",
		"intl timezone":      "resolvedOptions",
		"date offset":        "getTimezoneOffset",
		"date jitter":        "Date.now",
		"match media":        "matchMedia",
		"languages":          "languages",
		"performance jitter": "Performance.prototype.now",
		"stack scrub":        "prepareStackTrace",
		"screen geometry":    "availWidth",
		"permissions":        "permissions.query",
	}
	for name, marker := range vectors {
		assert.Contains(t, script, marker, name)
	}
}

func TestFullScriptTemplatesConfig(t *testing.T) {
	script := FullScript(testScriptConfig())

	assert.Contains(t, script, "'America/New_York'")
	assert.Contains(t, script, "'en-US'")
	assert.Contains(t, script, "'en'")
	assert.Contains(t, script, "Google Inc. (NVIDIA)")
	assert.Contains(t, script, "GeForce GTX 1660")
	assert.Contains(t, script, "1920")
	assert.Contains(t, script, "1080")
	assert.Contains(t, script, "1.25")
}

func TestFullScriptLeavesNoPlaceholders(t *testing.T) {
	script := FullScript(testScriptConfig())
	assert.NotContains(t, script, "__TIMEZONE__")
	assert.NotContains(t, script, "__LOCALE__")
	assert.NotContains(t, script, "__LANG__")
	assert.NotContains(t, script, "__WEBGL_VENDOR__")
	assert.NotContains(t, script, "__WEBGL_RENDERER__")
	assert.NotContains(t, script, "__SCREEN_W__")
	assert.NotContains(t, script, "__SCREEN_H__")
	assert.NotContains(t, script, "__VIEW_W__")
	assert.NotContains(t, script, "__VIEW_H__")
	assert.NotContains(t, script, "__DPR__")
	assert.NotContains(t, script, "__CORES__")
	assert.NotContains(t, script, "__MEMORY__")
}

func TestMediumScriptCoversHardeningVectors(t *testing.T) {
	script := MediumScript(testScriptConfig())

	assert.Contains(t, script, "debugger", "Function constructor debugger strip")
	assert.Contains(t, script, "native code", "toString masking")
	assert.Contains(t, script, "window.top", "frame check")
	assert.Contains(t, script, "navigationStart", "performance.timing")
}

func TestScriptConfigForDrawsFromAllowedPools(t *testing.T) {
	for i := 0; i < 100; i++ {
		cfg := ScriptConfigFor(testFingerprint(), "Europe/Berlin", "de-DE")
		assert.Contains(t, []int{4, 6, 8}, cfg.HardwareConcurrency)
		assert.Contains(t, []int{4, 8, 16}, cfg.DeviceMemory)
		assert.Equal(t, "Europe/Berlin", cfg.Timezone)
		assert.Equal(t, 1920, cfg.ScreenWidth)
	}
}

func TestBuildHeadersDocumentOrder(t *testing.T) {
	fp := testFingerprint()
	headers := BuildHeaders("document", fp, "en-US", "https://www.bing.com/")

	names := make([]string, len(headers))
	for i, h := range headers {
		names[i] = h.Name
	}
	assert.Equal(t, []string{
		"sec-ch-ua", "sec-ch-ua-mobile", "sec-ch-ua-platform",
		"upgrade-insecure-requests", "user-agent", "accept",
		"sec-fetch-site", "sec-fetch-mode", "sec-fetch-dest",
		"accept-encoding", "accept-language", "referer",
	}, names)
}

func TestBuildHeadersValues(t *testing.T) {
	fp := testFingerprint()
	headers := BuildHeaders("document", fp, "en-US", "")

	byName := map[string]string{}
	for _, h := range headers {
		byName[h.Name] = h.Value
	}
	assert.Equal(t, fp.UserAgent, byName["user-agent"])
	assert.Equal(t, "gzip, deflate, br, zstd", byName["accept-encoding"])
	assert.Contains(t, byName["accept"], "text/html")
	assert.Equal(t, "navigate", byName["sec-fetch-mode"])
	assert.Equal(t, "none", byName["sec-fetch-site"])
	assert.True(t, strings.HasPrefix(byName["accept-language"], "en-US,en;q=0."))
	_, hasReferer := byName["referer"]
	assert.False(t, hasReferer)
}

func TestBuildHeadersXHR(t *testing.T) {
	headers := BuildHeaders("xhr", testFingerprint(), "en-US", "")

	byName := map[string]string{}
	for _, h := range headers {
		byName[h.Name] = h.Value
	}
	assert.Equal(t, "*/*", byName["accept"])
	assert.Equal(t, "cors", byName["sec-fetch-mode"])
	assert.Equal(t, "empty", byName["sec-fetch-dest"])
	_, hasUIR := byName["upgrade-insecure-requests"]
	assert.False(t, hasUIR)
}

func TestInterceptorPassesThroughImages(t *testing.T) {
	handler := NewInterceptor(testFingerprint(), "en-US", nil)

	route := &browsertest.Route{Req: &browsertest.RouteRequest{
		URLVal:  "https://www.bing.com/logo.png",
		TypeVal: "image",
	}}
	handler(route)

	assert.True(t, route.Continued)
	assert.Nil(t, route.Overrides.Headers)
}

func TestInterceptorRewritesDocuments(t *testing.T) {
	handler := NewInterceptor(testFingerprint(), "en-US", nil)

	route := &browsertest.Route{Req: &browsertest.RouteRequest{
		URLVal:     "https://rewards.bing.com/",
		TypeVal:    "document",
		HeadersVal: map[string]string{"referer": "https://www.bing.com/"},
	}}
	handler(route)

	require.True(t, route.Continued)
	require.NotEmpty(t, route.Overrides.Headers)
	assert.Equal(t, "sec-ch-ua", route.Overrides.Headers[0].Name)
	last := route.Overrides.Headers[len(route.Overrides.Headers)-1]
	assert.Equal(t, "referer", last.Name)
	assert.Equal(t, "https://www.bing.com/", last.Value)
}

func TestThrottlerEnforcesMinimumGap(t *testing.T) {
	var slept time.Duration
	th := &Throttler{minGap: 10 * time.Millisecond, sleepFn: func(d time.Duration) { slept += d }}

	th.Wait() // first request has no predecessor
	first := slept
	th.Wait()
	assert.GreaterOrEqual(t, slept-first, 5*time.Millisecond)
}

func TestThrottlerIsConcurrencySafe(t *testing.T) {
	th := &Throttler{minGap: time.Microsecond, sleepFn: func(time.Duration) {}}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				th.Wait()
			}
		}()
	}
	wg.Wait()
}

func TestHardenerInstallsScriptsAndInterceptor(t *testing.T) {
	d := browsertest.NewDriver()
	bc, err := d.NewContext(context.Background(), browser.ContextOptions{})
	require.NoError(t, err)

	harden := Hardener(Options{
		Timezone: "America/New_York",
		Locale:   "en-US",
		Medium:   true,
		Throttle: NewThrottler(),
	})
	require.NoError(t, harden(bc, testFingerprint()))

	c := d.LastContext()
	require.Len(t, c.InitScripts, 2)
	assert.Contains(t, c.InitScripts[0], "webdriver")
	assert.Contains(t, c.InitScripts[1], "debugger")
	assert.NotNil(t, c.Handler)
}

func TestHardenerFullOnly(t *testing.T) {
	d := browsertest.NewDriver()
	bc, err := d.NewContext(context.Background(), browser.ContextOptions{})
	require.NoError(t, err)

	require.NoError(t, Hardener(Options{Locale: "en-US"})(bc, testFingerprint()))
	assert.Len(t, d.LastContext().InitScripts, 1)
}
