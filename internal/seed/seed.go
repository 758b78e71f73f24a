// Package seed loads the tracked-channel list from a YAML file.
package seed

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/util"
	"github.com/kapu/outlier-radar-go/pkg/errors"
)

// File is the on-disk layout:
//
//	channels:
//	  - channel_id: UCxxxxxxxx
//	    handle: "@rival"
//	    priority: 8
//	    refresh_interval: 3h
type File struct {
	Channels []Entry `yaml:"channels"`
}

type Entry struct {
	ChannelID       string  `yaml:"channel_id"`
	Handle          string  `yaml:"handle"`
	Title           string  `yaml:"title"`
	AvgViews        float64 `yaml:"avg_views"`
	Priority        int     `yaml:"priority"`
	RefreshInterval string  `yaml:"refresh_interval"`
	Active          *bool   `yaml:"active"`
}

// Load reads and parses a seed file.
func Load(path string) ([]*domain.TrackedChannel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return Parse(data)
}

// Parse converts YAML into tracked channels. Missing priority becomes the default,
// out-of-range priority is clamped, missing refresh interval is 6h and channels are active unless stated.
func Parse(data []byte) ([]*domain.TrackedChannel, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	seen := make(map[string]bool, len(file.Channels))
	channels := make([]*domain.TrackedChannel, 0, len(file.Channels))
	for i, entry := range file.Channels {
		ch, err := entry.toChannel()
		if err != nil {
			return nil, fmt.Errorf("channel #%d: %w", i+1, err)
		}
		if seen[ch.ChannelID] {
			return nil, errors.NewValidationError("duplicate channel id", "channel_id", ch.ChannelID)
		}
		seen[ch.ChannelID] = true
		channels = append(channels, ch)
	}
	return channels, nil
}

func (e Entry) toChannel() (*domain.TrackedChannel, error) {
	id := strings.TrimSpace(e.ChannelID)
	if id == "" {
		return nil, errors.NewValidationError("channel_id is required", "channel_id", e.ChannelID)
	}

	interval := constants.SchedulerDefaults.RefreshInterval
	if e.RefreshInterval != "" {
		d, err := time.ParseDuration(e.RefreshInterval)
		if err != nil || d <= 0 {
			return nil, errors.NewValidationError("invalid refresh_interval", "refresh_interval", e.RefreshInterval)
		}
		interval = d
	}

	priority := e.Priority
	if priority == 0 {
		priority = constants.SchedulerDefaults.DefaultPriority
	}

	active := true
	if e.Active != nil {
		active = *e.Active
	}

	avgViews := e.AvgViews
	if avgViews < 0 {
		avgViews = 0
	}

	return &domain.TrackedChannel{
		ChannelID:       id,
		Handle:          util.NormalizeHandle(e.Handle),
		Title:           strings.TrimSpace(e.Title),
		AvgViews:        avgViews,
		RefreshInterval: interval,
		Priority:        domain.ClampPriority(priority),
		Active:          active,
	}, nil
}
