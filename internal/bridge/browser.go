package bridge

import "os"

// defaultExecutable is the bundled fallback used when no local browser is
// found; transports resolve it against PATH.
const defaultExecutable = "chromium"

var wellKnownBrowserPaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/opt/google/chrome/chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// LocateBrowser resolves the browser executable for browser-automation
// transports: an existing override wins, then well-known install paths,
// then the bundled default.
func LocateBrowser(override string) string {
	return locateBrowser(override, wellKnownBrowserPaths)
}

func locateBrowser(override string, candidates []string) string {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return defaultExecutable
}
