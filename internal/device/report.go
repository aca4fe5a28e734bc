package device

import (
	"context"
	"strings"

	"TutorNotifyServer/internal/domain"
)

// Report is the device state a mobile client sends alongside login or token
// registration. The client mints its token only after the OS prompt has
// succeeded, so a token in an undetermined report means the prompt was granted.
type Report struct {
	PhysicalDevice bool   `json:"physical_device"`
	Permission     string `json:"permission"`
	Token          string `json:"token"`
	Platform       string `json:"platform"`
	ProjectID      string `json:"project_id,omitempty"`
}

// Validate rejects reports that claim a token without a usable platform.
func (r Report) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return nil
	}
	if _, ok := domain.ParsePlatform(r.Platform); !ok {
		return domain.NewValidationError(map[string]string{"platform": "must be ios, android or web"})
	}
	return nil
}

func (r Report) IsPhysicalDevice() bool { return r.PhysicalDevice }

func (r Report) PermissionStatus() Permission { return ParsePermission(r.Permission) }

func (r Report) RequestPermission(context.Context) (Permission, error) {
	if strings.TrimSpace(r.Token) != "" {
		return PermissionGranted, nil
	}
	return PermissionDenied, nil
}

func (r Report) PushToken(_ context.Context, projectID string) (string, domain.Platform, error) {
	if projectID != "" && r.ProjectID != "" && r.ProjectID != projectID {
		return "", "", domain.NewValidationError(map[string]string{"project_id": "does not match this server"})
	}
	platform, ok := domain.ParsePlatform(r.Platform)
	if !ok && strings.TrimSpace(r.Token) != "" {
		return "", "", domain.NewValidationError(map[string]string{"platform": "must be ios, android or web"})
	}
	return strings.TrimSpace(r.Token), platform, nil
}
