// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtimeenv bundles the small amount of process-level setup shared
// by both the station agent and the aggregator: loading a .env file before
// any other configuration is read, dropping root privileges once a
// privileged port has been bound, and notifying systemd of readiness.
package runtimeenv

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
)

// LoadEnv loads key=value pairs from file into the process environment.
// Missing files are not an error; callers check os.IsNotExist themselves.
func LoadEnv(file string) error {
	return godotenv.Load(file)
}

// DropPrivileges switches the process to the given user/group. It must be
// called after any privileged socket has already been bound -- the Go
// runtime applies the underlying syscall to every OS thread, not just the
// caller's, so this is safe to call from main after Listen.
func DropPrivileges(username string, group string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}

		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			return err
		}
	}

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			return err
		}

		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			return err
		}
	}

	return nil
}

// SystemdNotify informs systemd about a state change via sd_notify, if the
// process was started under systemd. It is a no-op otherwise.
// See: https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotify(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}
	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	cmd.Run() // best effort; nothing useful to do with the error here.
}
