// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtimeenv bundles the small pieces of process setup that aren't
// specific to the key-value server itself: environment file loading,
// privilege drop after binding the listening socket, and systemd readiness
// notification.
package runtimeenv

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

// LoadEnv reads file as a .env file and merges its keys into the process
// environment. A missing file is not an error.
func LoadEnv(file string) error {
	if err := godotenv.Load(file); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// DropPrivileges changes the process's user and group to those named.
// Must be called after the listening socket is bound, since binding to a
// privileged port requires the starting privileges. The go runtime applies
// the underlying setuid/setgid syscall to all threads, not just the caller.
func DropPrivileges(username string, group string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			log.Warn("Error while looking up group")
			return err
		}

		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			log.Warn("Error while setting gid")
			return err
		}
	}

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			log.Warn("Error while looking up user")
			return err
		}

		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			log.Warn("Error while setting uid")
			return err
		}
	}

	return nil
}

// SystemdNotify informs systemd of a readiness or status change:
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotify(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		// Not started using systemd.
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
	cmd.Run() // Errors ignored on purpose, there is not much to do anyways.
}
