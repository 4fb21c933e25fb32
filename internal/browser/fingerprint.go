package browser

import (
	"fmt"
	"strings"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
)

// Persona identifies the desktop or mobile identity of a session.
type Persona string

const (
	Desktop Persona = "desktop"
	Mobile  Persona = "mobile"
)

// Fingerprint is the internally consistent identity bundle for one session:
// viewport, screen metrics, scale factor, user agent and client hints all
// agree with each other and with the persona.
type Fingerprint struct {
	Persona           Persona
	Viewport          Viewport
	ScreenWidth       int
	ScreenHeight      int
	DeviceScaleFactor float64
	UserAgent         string
	SecCHUA           string
	SecCHUAMobile     string
	SecCHUAPlatform   string
	WebGLVendor       string
	WebGLRenderer     string
}

// desktopScreens is the weighted pool of realistic desktop resolutions.
// 1080p dominates real-world telemetry by a wide margin.
var desktopScreens = []struct {
	w, h   int
	weight float64
}{
	{1920, 1080, 0.55},
	{1366, 768, 0.15},
	{2560, 1440, 0.12},
	{1536, 864, 0.10},
	{1440, 900, 0.08},
}

// mobileDevices is the weighted pool of mobile device classes.
var mobileDevices = []struct {
	w, h   int
	dpr    float64
	model  string
	weight float64
}{
	{412, 915, 2.625, "Pixel 7", 0.30},
	{390, 844, 3, "Pixel 6", 0.25},
	{384, 854, 2.75, "SM-G991B", 0.25},
	{360, 800, 3, "SM-A525F", 0.20},
}

var webglPairs = []struct{ vendor, renderer string }{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 (0x00003E9B) Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 (0x00002184) Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 (0x000067DF) Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

// NewFingerprint draws a fresh identity for the persona using the given
// full browser version ("131.0.2903.86").
func NewFingerprint(persona Persona, edgeVersion string) Fingerprint {
	major := majorVersion(edgeVersion)

	if persona == Mobile {
		weights := make([]float64, len(mobileDevices))
		for i, d := range mobileDevices {
			weights[i] = d.weight
		}
		d := mobileDevices[humanize.WeightedPick(weights)]

		ua := fmt.Sprintf(
			"Mozilla/5.0 (Linux; Android 13; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Mobile Safari/537.36 EdgA/%s",
			d.model, edgeVersion, edgeVersion)
		vendor := webglPairs[0]

		return Fingerprint{
			Persona:           Mobile,
			Viewport:          Viewport{Width: d.w, Height: d.h},
			ScreenWidth:       d.w,
			ScreenHeight:      d.h,
			DeviceScaleFactor: d.dpr,
			UserAgent:         ua,
			SecCHUA:           clientHintBrands(major),
			SecCHUAMobile:     "?1",
			SecCHUAPlatform:   `"Android"`,
			WebGLVendor:       vendor.vendor,
			WebGLRenderer:     vendor.renderer,
		}
	}

	weights := make([]float64, len(desktopScreens))
	for i, s := range desktopScreens {
		weights[i] = s.weight
	}
	scr := desktopScreens[humanize.WeightedPick(weights)]

	// Window is slightly narrower than the screen and loses 100–120px of
	// height to browser chrome and the task bar.
	width := scr.w + humanize.IntIn(-10, 10)
	height := scr.h - humanize.IntIn(100, 120)

	dpr := 1.0
	if humanize.Bool(0.25) {
		dpr = 1.25
	}

	ua := fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s",
		edgeVersion, edgeVersion)
	gpu := humanize.Pick(webglPairs)

	return Fingerprint{
		Persona:           Desktop,
		Viewport:          Viewport{Width: width, Height: height},
		ScreenWidth:       scr.w,
		ScreenHeight:      scr.h,
		DeviceScaleFactor: dpr,
		UserAgent:         ua,
		SecCHUA:           clientHintBrands(major),
		SecCHUAMobile:     "?0",
		SecCHUAPlatform:   `"Windows"`,
		WebGLVendor:       gpu.vendor,
		WebGLRenderer:     gpu.renderer,
	}
}

// clientHintBrands builds the sec-ch-ua value in Chromium's brand order.
func clientHintBrands(major string) string {
	return fmt.Sprintf(
		`"Microsoft Edge";v="%s", "Chromium";v="%s", "Not_A Brand";v="24"`,
		major, major)
}

func majorVersion(full string) string {
	if i := strings.IndexByte(full, '.'); i > 0 {
		return full[:i]
	}
	return full
}
