// Package bootstrap loads the peripheral configuration a peer process
// needs before it can start: the coordinator address from a trackers file.
// Listen and advertise settings come from command-line flags. This and the
// process's
// command-line surface are external shells around the core
// registry/scheduler/wire-protocol logic.
package bootstrap

import (
	"bufio"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ReadCoordinatorAddr reads the first non-empty, non-comment line of a
// trackers file and returns it as the coordinator's host:port. A missing
// or empty file, or a first line that is not host:port, is a fatal
// configuration error.
func ReadCoordinatorAddr(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "bootstrap: open trackers file")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, err := net.SplitHostPort(line); err != nil {
			return "", errors.Wrapf(err, "bootstrap: malformed coordinator address %q", line)
		}
		return line, nil
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrap(err, "bootstrap: read trackers file")
	}
	return "", errors.Errorf("bootstrap: %s contains no coordinator address", path)
}
