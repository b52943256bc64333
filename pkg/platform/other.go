//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package platform

func native() Services { return nil }
