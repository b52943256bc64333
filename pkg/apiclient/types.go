package apiclient

import (
	"time"
)

type Health struct {
	Service     string `json:"service"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
	OpenFiles   int    `json:"open_files"`
}

// Name is one NetBIOS name table entry. Type is rendered as "0x20".
type Name struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Group      bool     `json:"group"`
	Local      bool     `json:"local"`
	State      string   `json:"state"`
	Addresses  []string `json:"addresses"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type Tree struct {
	ID        uint32    `json:"id"`
	Share     string    `json:"share"`
	Opens     int       `json:"opens"`
	Connected time.Time `json:"connected"`
}

type SessionStats struct {
	Trees int `json:"trees"`
	Opens int `json:"opens"`
	Locks int `json:"locks"`
}

type Session struct {
	ID      uint64       `json:"id"`
	User    string       `json:"user"`
	Domain  string       `json:"domain"`
	Client  string       `json:"client"`
	Guest   bool         `json:"guest"`
	Created time.Time    `json:"created"`
	Trees   []Tree       `json:"trees"`
	Stats   SessionStats `json:"stats"`
}

type Share struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Driver      string `json:"driver,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Hidden      bool   `json:"hidden"`
	MaxUses     uint32 `json:"max_uses"`
	CurrentUses int    `json:"current_uses"`
}

type Lock struct {
	Offset    uint64    `json:"offset"`
	Length    uint64    `json:"length"`
	PID       uint32    `json:"pid"`
	SessionID uint64    `json:"session_id"`
	Acquired  time.Time `json:"acquired"`
}

type FileLocks struct {
	Share string `json:"share"`
	Path  string `json:"path"`
	Locks []Lock `json:"locks"`
}
