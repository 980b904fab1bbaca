// Package inspect extracts version metadata from staged APK files.
package inspect

import (
	"context"
	"log"
	"os/exec"
	"regexp"
	"time"

	"github.com/egorin/apkhub/internal/appver"
)

// Inspector reports the declared version of a package file. Implementations
// never fail hard: an unreadable or unparseable package yields
// appver.Unknown so the pipeline can keep going.
type Inspector interface {
	Version(ctx context.Context, path string) string
}

const aaptTimeout = 30 * time.Second

var versionNameRe = regexp.MustCompile(`versionName='([^']+)'`)

// AAPT inspects APKs with the Android asset packaging tool
// ("aapt dump badging").
type AAPT struct {
	Binary string
}

// NewAAPT locates aapt on PATH, falling back to the conventional install
// location.
func NewAAPT() *AAPT {
	bin, err := exec.LookPath("aapt")
	if err != nil {
		bin = "/usr/bin/aapt"
	}
	return &AAPT{Binary: bin}
}

// Version runs aapt against the file and extracts versionName. Any failure
// (missing binary, timeout, no versionName in output) degrades to
// appver.Unknown.
func (a *AAPT) Version(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, aaptTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, a.Binary, "dump", "badging", path).Output()
	if err != nil {
		log.Printf("[inspect] aapt failed for %s: %v", path, err)
		return appver.Unknown
	}
	m := versionNameRe.FindSubmatch(out)
	if m == nil {
		log.Printf("[inspect] no versionName in %s", path)
		return appver.Unknown
	}
	return string(m[1])
}
