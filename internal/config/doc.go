// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package config loads and validates Periscope configuration using
// koanf v2 with layered sources: struct defaults, an optional YAML
// config file, and PERISCOPE_-prefixed environment variables.
package config
