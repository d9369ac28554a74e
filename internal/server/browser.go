package server

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the platform opener for url.
func browserCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	case "darwin":
		return "open", []string{url}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform %q", goos)
	}
}

// launchBrowser expects url to have passed validation.BrowserURL.
func (s *PreviewServer) launchBrowser(ctx context.Context, url string) {
	name, args, err := browserCommand(runtime.GOOS, url)
	if err == nil {
		cmd := exec.Command(name, args...)
		if err = cmd.Start(); err == nil {
			go func() { _ = cmd.Wait() }()
		}
	}
	if err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser", "url", url)
	}
}
