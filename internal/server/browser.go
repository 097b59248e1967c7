package server

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// OpenBrowser opens rawURL with the platform's default handler.
func OpenBrowser(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open %q", rawURL)
	}

	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", u.String()).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u.String()).Start()
	case "darwin":
		return exec.Command("open", u.String()).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
