package skillfmt

import "strings"

// OS is a client operating system family.
type OS string

const (
	OSMac     OS = "macos"
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
	OSUnknown OS = "unknown"
)

// DetectOS guesses the operating system from a User-Agent header.
func DetectOS(userAgent string) OS {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return OSUnknown
	case strings.Contains(ua, "windows"):
		return OSWindows
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "android"):
		return OSUnknown
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"), strings.Contains(ua, "darwin"):
		return OSMac
	case strings.Contains(ua, "linux"), strings.Contains(ua, "x11"):
		return OSLinux
	}
	return OSUnknown
}

// MCPConfigPath is where an MCP client keeps its server configuration on os.
// It is empty for OSUnknown.
func MCPConfigPath(os OS) string {
	switch os {
	case OSMac:
		return "~/Library/Application Support/Claude/claude_desktop_config.json"
	case OSWindows:
		return `%APPDATA%\Claude\claude_desktop_config.json`
	case OSLinux:
		return "~/.config/Claude/claude_desktop_config.json"
	}
	return ""
}
