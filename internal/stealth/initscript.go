package stealth

import (
	"strconv"
	"strings"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
)

// ScriptConfig carries the per-session values templated into the init
// scripts. Everything else in the scripts is self-contained.
type ScriptConfig struct {
	Timezone            string
	Locale              string
	WebGLVendor         string
	WebGLRenderer       string
	ScreenWidth         int
	ScreenHeight        int
	ViewportWidth       int
	ViewportHeight      int
	DeviceScaleFactor   float64
	HardwareConcurrency int
	DeviceMemory        int
}

// ScriptConfigFor derives a script config from a session fingerprint.
// Hardware values come from small realistic pools so two sessions rarely
// share an identical machine profile.
func ScriptConfigFor(fp browser.Fingerprint, timezone, locale string) ScriptConfig {
	return ScriptConfig{
		Timezone:            timezone,
		Locale:              locale,
		WebGLVendor:         fp.WebGLVendor,
		WebGLRenderer:       fp.WebGLRenderer,
		ScreenWidth:         fp.ScreenWidth,
		ScreenHeight:        fp.ScreenHeight,
		ViewportWidth:       fp.Viewport.Width,
		ViewportHeight:      fp.Viewport.Height,
		DeviceScaleFactor:   fp.DeviceScaleFactor,
		HardwareConcurrency: humanize.Pick([]int{4, 6, 8}),
		DeviceMemory:        humanize.Pick([]int{4, 8, 16}),
	}
}

// FullScript renders the complete spoof script. It must be installed via
// AddInitScript before the first page is created so it runs before any
// site script.
func FullScript(cfg ScriptConfig) string {
	return render(fullScript, cfg)
}

// MediumScript renders the supplementary hardening layer: anti-debugging
// and frame checks kept separate so they can be skipped on pages that
// legitimately use devtools-adjacent APIs.
func MediumScript(cfg ScriptConfig) string {
	return render(mediumScript, cfg)
}

func render(script string, cfg ScriptConfig) string {
	lang := cfg.Locale
	if lang == "" {
		lang = "en-US"
	}
	base := lang
	if i := strings.IndexByte(lang, '-'); i > 0 {
		base = lang[:i]
	}
	r := strings.NewReplacer(
		"__TIMEZONE__", cfg.Timezone,
		"__LOCALE__", lang,
		"__LANG__", base,
		"__WEBGL_VENDOR__", cfg.WebGLVendor,
		"__WEBGL_RENDERER__", cfg.WebGLRenderer,
		"__SCREEN_W__", strconv.Itoa(cfg.ScreenWidth),
		"__SCREEN_H__", strconv.Itoa(cfg.ScreenHeight),
		"__VIEW_W__", strconv.Itoa(cfg.ViewportWidth),
		"__VIEW_H__", strconv.Itoa(cfg.ViewportHeight),
		"__DPR__", strconv.FormatFloat(cfg.DeviceScaleFactor, 'g', -1, 64),
		"__CORES__", strconv.Itoa(cfg.HardwareConcurrency),
		"__MEMORY__", strconv.Itoa(cfg.DeviceMemory),
	)
	return r.Replace(script)
}

const fullScript = `(() => {
  'use strict';

  const define = (obj, prop, value) => {
    try {
      Object.defineProperty(obj, prop, { get: () => value, configurable: true });
    } catch (e) {}
  };

  // navigator.webdriver must read as undefined, and the property must not
  // survive a delete probe.
  try {
    delete Object.getPrototypeOf(navigator).webdriver;
  } catch (e) {}
  define(navigator, 'webdriver', undefined);

  // window.chrome with plausible runtime surface.
  if (!window.chrome) {
    const chrome = {
      app: { isInstalled: false, InstallState: { DISABLED: 'disabled', INSTALLED: 'installed', NOT_INSTALLED: 'not_installed' }, RunningState: { CANNOT_RUN: 'cannot_run', READY_TO_RUN: 'ready_to_run', RUNNING: 'running' } },
      runtime: { OnInstalledReason: {}, OnRestartRequiredReason: {}, PlatformArch: {}, PlatformOs: {}, connect: () => {}, sendMessage: () => {} },
      loadTimes: () => ({}),
      csi: () => ({}),
    };
    try { Object.defineProperty(window, 'chrome', { value: chrome, configurable: true, writable: true }); } catch (e) {}
  }

  // Hardware identity.
  define(navigator, 'hardwareConcurrency', __CORES__);
  define(navigator, 'deviceMemory', __MEMORY__);
  define(navigator, 'languages', Object.freeze(['__LOCALE__', '__LANG__']));
  define(navigator, 'language', '__LOCALE__');

  // Plugin list matching a stock Chromium install.
  try {
    const mkPlugin = (name, filename, description) => {
      const p = Object.create(Plugin.prototype);
      define(p, 'name', name);
      define(p, 'filename', filename);
      define(p, 'description', description);
      define(p, 'length', 1);
      return p;
    };
    const plugins = [
      mkPlugin('PDF Viewer', 'internal-pdf-viewer', 'Portable Document Format'),
      mkPlugin('Chrome PDF Viewer', 'internal-pdf-viewer', 'Portable Document Format'),
      mkPlugin('Chromium PDF Viewer', 'internal-pdf-viewer', 'Portable Document Format'),
      mkPlugin('Microsoft Edge PDF Viewer', 'internal-pdf-viewer', 'Portable Document Format'),
      mkPlugin('WebKit built-in PDF', 'internal-pdf-viewer', 'Portable Document Format'),
    ];
    const arr = Object.create(PluginArray.prototype);
    plugins.forEach((p, i) => { arr[i] = p; arr[p.name] = p; });
    define(arr, 'length', plugins.length);
    arr.item = i => plugins[i] || null;
    arr.namedItem = n => arr[n] || null;
    arr[Symbol.iterator] = function* () { for (const p of plugins) yield p; };
    define(navigator, 'plugins', arr);
  } catch (e) {}

  // Screen geometry consistent with the context viewport.
  define(screen, 'width', __SCREEN_W__);
  define(screen, 'height', __SCREEN_H__);
  define(screen, 'availWidth', __SCREEN_W__);
  define(screen, 'availHeight', __SCREEN_H__ - 40);
  define(screen, 'colorDepth', 24);
  define(screen, 'pixelDepth', 24);
  define(window, 'devicePixelRatio', __DPR__);
  define(window, 'outerWidth', __VIEW_W__);
  define(window, 'outerHeight', __VIEW_H__ + 85);

  // Timezone via Intl.DateTimeFormat resolvedOptions is the usual probe.
  try {
    const origResolved = Intl.DateTimeFormat.prototype.resolvedOptions;
    Intl.DateTimeFormat.prototype.resolvedOptions = function () {
      const opts = origResolved.call(this);
      opts.timeZone = '__TIMEZONE__';
      return opts;
    };
  } catch (e) {}

  // Date.getTimezoneOffset must agree with the Intl timezone above; the
  // host machine usually sits in a different zone.
  try {
    const offsetFor = d => {
      const utc = new Date(d.toLocaleString('en-US', { timeZone: 'UTC' }));
      const loc = new Date(d.toLocaleString('en-US', { timeZone: '__TIMEZONE__' }));
      return Math.round((utc - loc) / 60000);
    };
    Date.prototype.getTimezoneOffset = function () { return offsetFor(this); };
  } catch (e) {}

  // Millisecond jitter on Date.now, kept monotonic so intervals stay sane.
  try {
    const origDateNow = Date.now;
    let lastNow = 0;
    Date.now = () => {
      const v = origDateNow() + Math.floor(Math.random() * 2);
      if (v > lastNow) lastNow = v;
      return lastNow;
    };
  } catch (e) {}

  // matchMedia answers must agree with the spoofed screen and DPR.
  try {
    const origMatchMedia = window.matchMedia.bind(window);
    const forcedMatch = q => {
      const dim = /\((min|max)-(device-)?(width|height):\s*([\d.]+)px\)/.exec(q);
      if (dim) {
        const px = parseFloat(dim[4]);
        const actual = dim[3] === 'width'
          ? (dim[2] ? __SCREEN_W__ : window.innerWidth)
          : (dim[2] ? __SCREEN_H__ : window.innerHeight);
        return dim[1] === 'min' ? actual >= px : actual <= px;
      }
      const res = /\((min-|max-)?resolution:\s*([\d.]+)dppx\)/.exec(q);
      if (res) {
        const v = parseFloat(res[2]);
        if (res[1] === 'min-') return __DPR__ >= v;
        if (res[1] === 'max-') return __DPR__ <= v;
        return __DPR__ === v;
      }
      return null;
    };
    window.matchMedia = function matchMedia(q) {
      const mql = origMatchMedia(q);
      const forced = forcedMatch(String(q));
      if (forced !== null) {
        try { Object.defineProperty(mql, 'matches', { get: () => forced, configurable: true }); } catch (e) {}
      }
      return mql;
    };
  } catch (e) {}

  // WebGL vendor and renderer strings.
  try {
    const patchGL = proto => {
      const orig = proto.getParameter;
      proto.getParameter = function (param) {
        if (param === 37445) return '__WEBGL_VENDOR__';
        if (param === 37446) return '__WEBGL_RENDERER__';
        return orig.call(this, param);
      };
    };
    patchGL(WebGLRenderingContext.prototype);
    if (window.WebGL2RenderingContext) patchGL(WebGL2RenderingContext.prototype);
  } catch (e) {}

  // Canvas noise. Session-stable per pixel position so repeated reads of
  // the same canvas agree while cross-session hashes differ.
  try {
    const seed = Math.floor(Math.random() * 0xffff);
    const noise = (x, y) => ((x * 31 + y * 17 + seed) % 7) - 3;
    const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
    CanvasRenderingContext2D.prototype.getImageData = function (sx, sy, sw, sh, ...rest) {
      const data = origGetImageData.call(this, sx, sy, sw, sh, ...rest);
      const d = data.data;
      for (let y = 0; y < sh; y += 13) {
        for (let x = 0; x < sw; x += 13) {
          const i = (y * sw + x) * 4;
          d[i] = Math.max(0, Math.min(255, d[i] + noise(x, y)));
        }
      }
      return data;
    };
    const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
    HTMLCanvasElement.prototype.toDataURL = function (...args) {
      const ctx = this.getContext('2d');
      if (ctx && this.width > 0 && this.height > 0) {
        try { ctx.getImageData(0, 0, this.width, this.height); } catch (e) {}
      }
      return origToDataURL.apply(this, args);
    };
  } catch (e) {}

  // Audio fingerprint noise, far below audibility.
  try {
    const origGetChannelData = AudioBuffer.prototype.getChannelData;
    AudioBuffer.prototype.getChannelData = function (...args) {
      const data = origGetChannelData.apply(this, args);
      for (let i = 0; i < data.length; i += 100) {
        data[i] += (Math.random() * 2 - 1) * 1e-7;
      }
      return data;
    };
  } catch (e) {}

  // WebRTC leaks the real IP through ICE candidates.
  try {
    const block = () => { throw new DOMException('NotAllowedError', 'NotAllowedError'); };
    if (window.RTCPeerConnection) window.RTCPeerConnection = function () { block(); };
    if (window.webkitRTCPeerConnection) window.webkitRTCPeerConnection = function () { block(); };
    if (window.RTCDataChannel) window.RTCDataChannel = undefined;
  } catch (e) {}

  // Battery API reads as a plugged-in full battery.
  try {
    navigator.getBattery = () => Promise.resolve({
      charging: true,
      chargingTime: 0,
      dischargingTime: Infinity,
      level: 1.0,
      addEventListener: () => {},
      removeEventListener: () => {},
    });
  } catch (e) {}

  // Sub-millisecond jitter on performance.now defeats timing-grid probes.
  try {
    const origNow = Performance.prototype.now;
    Performance.prototype.now = function () {
      return origNow.call(this) + Math.random() * 0.2;
    };
  } catch (e) {}

  // Scrub automation frames from stack traces.
  try {
    const origPrepare = Error.prepareStackTrace;
    const scrub = s => typeof s === 'string'
      ? s.split('\n').filter(l => !/puppeteer|playwright|__playwright|pptr:/i.test(l)).join('\n')
      : s;
    const origStackDesc = Object.getOwnPropertyDescriptor(Error.prototype, 'stack');
    if (origStackDesc && origStackDesc.get) {
      Object.defineProperty(Error.prototype, 'stack', {
        get() { return scrub(origStackDesc.get.call(this)); },
        configurable: true,
      });
    }
    if (origPrepare) Error.prepareStackTrace = (err, frames) => scrub(origPrepare(err, frames));
  } catch (e) {}

  // Permission query for notifications must match a real profile where
  // Notification.permission is 'default'.
  try {
    const origQuery = navigator.permissions.query.bind(navigator.permissions);
    navigator.permissions.query = p =>
      p && p.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission, onchange: null })
        : origQuery(p);
  } catch (e) {}
})();`

const mediumScript = `(() => {
  'use strict';

  // Neutralize constructor-based debugger traps without breaking eval.
  try {
    const OrigFunction = window.Function;
    const wrapped = function (...args) {
      if (args.length > 0 && typeof args[args.length - 1] === 'string') {
        args[args.length - 1] = args[args.length - 1].replace(/debugger/g, '');
      }
      return OrigFunction.apply(this, args);
    };
    wrapped.prototype = OrigFunction.prototype;
    window.Function = wrapped;
  } catch (e) {}

  // Patched natives must still stringify as native code.
  try {
    const origToString = Function.prototype.toString;
    const nativeLike = new Set(['getParameter', 'getImageData', 'getChannelData', 'now', 'query', 'resolvedOptions', 'toDataURL', 'getTimezoneOffset', 'matchMedia']);
    Function.prototype.toString = function () {
      if (nativeLike.has(this.name)) {
        return 'function ' + this.name + '() { [native code] }';
      }
      return origToString.call(this);
    };
  } catch (e) {}

  // Devtools-docked detection compares self against top.
  try {
    if (window.self !== window.top) {
      Object.defineProperty(window, 'frameElement', { get: () => null, configurable: true });
    }
  } catch (e) {}

  // Back-fill the legacy performance.timing surface when absent.
  try {
    if (!performance.timing || performance.timing.navigationStart === 0) {
      const start = Date.now() - Math.floor(Math.random() * 2000) - 500;
      Object.defineProperty(performance, 'timing', {
        get: () => ({
          navigationStart: start,
          fetchStart: start + 2,
          domainLookupStart: start + 5,
          domainLookupEnd: start + 20,
          connectStart: start + 21,
          connectEnd: start + 60,
          requestStart: start + 62,
          responseStart: start + 180,
          responseEnd: start + 240,
          domLoading: start + 250,
          domInteractive: start + 600,
          domContentLoadedEventStart: start + 610,
          domContentLoadedEventEnd: start + 650,
          domComplete: start + 900,
          loadEventStart: start + 905,
          loadEventEnd: start + 930,
        }),
        configurable: true,
      });
    }
  } catch (e) {}
})();`
