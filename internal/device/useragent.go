package device

import "strings"

// parseUserAgent extrae tipo/plataforma/browser de forma heurística.
// No pretende ser un parser UA completo: alimenta metadata legible, no
// decisiones de seguridad.
func parseUserAgent(ua string) (devType, platform, browser string) {
	lua := strings.ToLower(ua)

	switch {
	case strings.Contains(lua, "ipad") || strings.Contains(lua, "tablet"):
		devType = "tablet"
	case strings.Contains(lua, "mobile") || strings.Contains(lua, "iphone") || strings.Contains(lua, "android"):
		devType = "mobile"
	case lua == "":
		devType = "unknown"
	default:
		devType = "desktop"
	}

	switch {
	case strings.Contains(lua, "windows"):
		platform = "windows"
	case strings.Contains(lua, "mac os") || strings.Contains(lua, "macintosh"):
		platform = "macos"
	case strings.Contains(lua, "iphone") || strings.Contains(lua, "ipad"):
		platform = "ios"
	case strings.Contains(lua, "android"):
		platform = "android"
	case strings.Contains(lua, "linux"):
		platform = "linux"
	default:
		platform = "unknown"
	}

	switch {
	case strings.Contains(lua, "edg/"):
		browser = "edge"
	case strings.Contains(lua, "firefox/"):
		browser = "firefox"
	case strings.Contains(lua, "chrome/"):
		browser = "chrome"
	case strings.Contains(lua, "safari/"):
		browser = "safari"
	default:
		browser = "unknown"
	}
	return
}
