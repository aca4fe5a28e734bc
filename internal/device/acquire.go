// Package device turns a device's notification state into a push token.
//
// Simulators and denied permissions are not errors: Acquire reports them as
// skipped results so callers can carry on with their primary flow.
package device

import (
	"context"
	"fmt"
	"strings"

	"TutorNotifyServer/internal/domain"
)

type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

func ParsePermission(s string) Permission {
	switch Permission(strings.ToLower(strings.TrimSpace(s))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	default:
		return PermissionUndetermined
	}
}

// Device is the platform notification service as seen from one installation.
type Device interface {
	IsPhysicalDevice() bool
	PermissionStatus() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	PushToken(ctx context.Context, projectID string) (token string, platform domain.Platform, err error)
}

type Acquired struct {
	Token    string
	Platform domain.Platform
}

// Acquire obtains a push token from d. The permission prompt is requested at
// most once, and only while the permission is undetermined.
func Acquire(ctx context.Context, d Device, projectID string) (Acquired, domain.Result) {
	if d == nil || !d.IsPhysicalDevice() {
		return Acquired{}, domain.Skipped(domain.ResultSkippedNoDevice)
	}

	perm := d.PermissionStatus()
	if perm == PermissionUndetermined {
		var err error
		perm, err = d.RequestPermission(ctx)
		if err != nil {
			return Acquired{}, domain.Failed(fmt.Errorf("request notification permission: %w", err))
		}
	}
	if perm != PermissionGranted {
		return Acquired{}, domain.Skipped(domain.ResultSkippedPermissionDenied)
	}

	token, platform, err := d.PushToken(ctx, projectID)
	if err != nil {
		return Acquired{}, domain.Failed(fmt.Errorf("get push token: %w", err))
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Acquired{}, domain.Skipped(domain.ResultSkippedNoToken)
	}
	return Acquired{Token: token, Platform: platform}, domain.OK()
}
