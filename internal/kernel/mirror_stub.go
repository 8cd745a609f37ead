//go:build !linux

// Package kernel mirrors the host's links, addresses and routes into the
// dataplane engine over rtnetlink. Only Linux hosts carry rtnetlink; on
// other platforms the mirror refuses to start.
package kernel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// ErrUnsupported indicates the platform has no rtnetlink.
var ErrUnsupported = errors.New("kernel mirror requires linux")

// Mirror is the no-op placeholder on non-Linux platforms.
type Mirror struct{}

// New creates the placeholder mirror.
func New(_ *slog.Logger, _ *dataplane.Engine) *Mirror { return &Mirror{} }

// Run always fails on non-Linux platforms.
func (m *Mirror) Run(_ context.Context) error { return ErrUnsupported }
