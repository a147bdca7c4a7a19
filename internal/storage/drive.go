package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// DriveConfig configures the Google Drive store. The token file must be
// provisioned ahead of time (the interactive OAuth consent flow does not
// work on headless servers); driveback only refreshes it.
type DriveConfig struct {
	CredentialsFile string
	TokenFile       string
}

// Validate checks if the configuration is valid.
func (c DriveConfig) Validate() error {
	if c.CredentialsFile == "" {
		return errors.New("drive store: credentials file is required")
	}
	if c.TokenFile == "" {
		return errors.New("drive store: token file is required")
	}
	return nil
}

// DriveStore is a Store backed by Google Drive. Folder and entry
// identifiers are Drive file IDs.
type DriveStore struct {
	service *drive.Service
	logger  zerolog.Logger
}

// NewDriveStore authenticates against Drive using the stored OAuth token
// and verifies the session.
func NewDriveStore(ctx context.Context, cfg DriveConfig, logger zerolog.Logger) (*DriveStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	credData, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials file: %v", ErrAuth, err)
	}

	oauthCfg, err := google.ConfigFromJSON(credData, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %v", ErrAuth, err)
	}

	tokenData, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read token file (complete the OAuth flow on a machine with a browser and copy the token here): %v", ErrAuth, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("%w: parse token file: %v", ErrAuth, err)
	}

	client := oauthCfg.Client(ctx, &token)
	service, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%w: create drive client: %v", ErrAuth, err)
	}

	// Verify the session before any target runs.
	if _, err := service.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	return &DriveStore{
		service: service,
		logger:  logger.With().Str("component", "drive_store").Logger(),
	}, nil
}

// Name identifies the backend.
func (s *DriveStore) Name() string { return "drive" }

// EnsureFolder looks the folder up by name and creates it if absent.
func (s *DriveStore) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("name=%s and mimeType='%s' and trashed=false",
		driveQuoted(name), driveFolderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	list, err := s.service.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	meta := &drive.File{
		Name:     name,
		MimeType: driveFolderMimeType,
	}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}

	folder, err := s.service.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}

	s.logger.Info().Str("folder", name).Str("id", folder.Id).Msg("created remote folder")
	return folder.Id, nil
}

// Upload streams the local file into the folder.
func (s *DriveStore) Upload(ctx context.Context, folderID, localPath, remoteName string) (*RemoteEntry, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUpload, localPath, err)
	}
	defer f.Close()

	meta := &drive.File{
		Name:    remoteName,
		Parents: []string{folderID},
	}

	created, err := s.service.Files.Create(meta).
		Media(f).
		Fields("id, name, createdTime, size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %v", ErrUpload, remoteName, err)
	}

	s.logger.Debug().Str("name", remoteName).Str("id", created.Id).Msg("uploaded artifact")

	return &RemoteEntry{
		ID:        created.Id,
		Name:      created.Name,
		CreatedAt: parseDriveTime(created.CreatedTime),
		SizeBytes: created.Size,
	}, nil
}

// List follows page tokens until Drive reports no more results. Drive
// queries have no name-prefix operator, so it narrows with "contains" and
// filters exactly on the client.
func (s *DriveStore) List(ctx context.Context, folderID, namePrefix string) ([]RemoteEntry, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	if namePrefix != "" {
		query += fmt.Sprintf(" and name contains %s", driveQuoted(namePrefix))
	}

	var entries []RemoteEntry
	pageToken := ""
	for {
		call := s.service.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, createdTime, size)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%w: list folder %s: %v", ErrList, folderID, err)
		}

		for _, f := range page.Files {
			if namePrefix != "" && !strings.HasPrefix(f.Name, namePrefix) {
				continue
			}
			entries = append(entries, RemoteEntry{
				ID:        f.Id,
				Name:      f.Name,
				CreatedAt: parseDriveTime(f.CreatedTime),
				SizeBytes: f.Size,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes the file by ID.
func (s *DriveStore) Delete(ctx context.Context, entryID string) error {
	if err := s.service.Files.Delete(entryID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrDelete, entryID, err)
	}
	return nil
}

// driveQuoted escapes a string literal for a Drive query.
func driveQuoted(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// parseDriveTime parses Drive's RFC 3339 timestamps, returning the zero
// time on malformed input.
func parseDriveTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
