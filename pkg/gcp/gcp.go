// Package gcp holds the credential and naming helpers shared by the Google
// Cloud clients.
package gcp

import (
	"errors"
	"strings"

	"google.golang.org/api/option"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
)

var ErrProjectIDRequired = errors.New("gcp project id is required")

// ClientOptions picks inline JSON credentials over a credentials file. With
// neither set the clients fall back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(cfg.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if file := strings.TrimSpace(cfg.ApplicationCredentials); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

// ProjectID returns the trimmed project id or ErrProjectIDRequired.
func ProjectID(cfg config.GCPConfig) (string, error) {
	id := strings.TrimSpace(cfg.ProjectID)
	if id == "" {
		return "", ErrProjectIDRequired
	}
	return id, nil
}

// ResourceName expands a short name into projects/<project>/<collection>/<name>.
// Names that are already fully qualified for collection pass through.
func ResourceName(projectID, collection, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + collection + "/" + name
}
