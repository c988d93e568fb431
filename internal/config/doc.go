// Package config provides the kdbg configuration.
//
// Settings are layered, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Command Line Flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. KDBG_* Environment      │
//	├─────────────────────────────┤
//	│  2. Config File             │  ← kdbg.toml, kdbg.yaml, $KDBG_CONFIG
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// A config file looks like this:
//
//	[adapter]
//	transport = "tcp"
//	address = "127.0.0.1:5678"
//
//	[session]
//	stop_timeout = "5s"
//	register_command = "dumpCell"
//
//	[debugger]
//	auto_start = true
//
//	[log]
//	level = "debug"
//
// The same keys work in YAML. Environment variables follow the key path:
// KDBG_SESSION_STOP_TIMEOUT=2s sets session.stop_timeout.
//
// # Sub-packages
//
//   - loader: file and environment sources, deep merge
//   - watcher: file change notification for live reload
//
// # Basic Usage
//
//	cfg, err := config.Load("", config.WithOverrides(map[string]any{
//	    "log.level": "debug",
//	}))
package config
