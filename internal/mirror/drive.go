package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// driveBackend 以服务账号访问 Google Drive。
type driveBackend struct {
	files       *drive.FilesService
	permissions *drive.PermissionsService
	root        string
}

// ctx 的生命周期须长于 backend，服务用它刷新 token。
func newDriveBackend(ctx context.Context, credentialsFile, rootFolder string, initTimeout time.Duration) (*driveBackend, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveScope),
	)
	if err != nil {
		return nil, fmt.Errorf("init drive service: %w", err)
	}
	b := &driveBackend{files: svc.Files, permissions: svc.Permissions}

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	root, err := b.ensureFolder(ctx, rootFolder, "")
	if err != nil {
		return nil, fmt.Errorf("ensure root folder: %w", err)
	}
	if err := b.grantPublicRead(ctx, root); err != nil {
		return nil, fmt.Errorf("publish root folder: %w", err)
	}
	b.root = root
	return b, nil
}

func (b *driveBackend) name() string         { return "drive" }
func (b *driveBackend) rootFolderID() string { return b.root }

func (b *driveBackend) ensureFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), driveFolderMime)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}
	list, err := b.files.List().Q(q).Spaces("drive").Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder := &drive.File{Name: name, MimeType: driveFolderMime}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	created, err := b.files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	return created.Id, nil
}

func (b *driveBackend) upload(ctx context.Context, r io.Reader, _ int64, name, parentID, mimeType string) (string, error) {
	meta := &drive.File{Name: name, MimeType: mimeType}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	created, err := b.files.Create(meta).Media(r).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", name, err)
	}
	return created.Id, nil
}

func (b *driveBackend) grantPublicRead(ctx context.Context, id string) error {
	_, err := b.permissions.Create(id, &drive.Permission{Type: "anyone", Role: "reader"}).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("share %s: %w", id, err)
	}
	return nil
}

func (b *driveBackend) viewURL(_ context.Context, id string) (string, error) {
	return "https://drive.google.com/file/d/" + url.PathEscape(id) + "/view", nil
}

func (b *driveBackend) downloadURL(_ context.Context, id string) (string, error) {
	return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id), nil
}

func (b *driveBackend) isMember(ctx context.Context, fileID, folderID string) (bool, error) {
	if fileID == "" || folderID == "" {
		return false, nil
	}
	f, err := b.files.Get(fileID).Fields("parents").Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return false, nil
		}
		return false, err
	}
	return slices.Contains(f.Parents, folderID), nil
}

func (b *driveBackend) listChildren(ctx context.Context, folderID string) ([]Entry, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))
	var entries []Entry
	err := b.files.List().Q(q).Spaces("drive").
		Fields("nextPageToken, files(id, name, mimeType, size, modifiedTime)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
				entries = append(entries, Entry{
					ID:         f.Id,
					Name:       f.Name,
					MimeType:   f.MimeType,
					Size:       f.Size,
					IsFolder:   f.MimeType == driveFolderMime,
					ModifiedAt: modified,
				})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}
	return entries, nil
}

func (b *driveBackend) delete(ctx context.Context, id string) error {
	if err := b.files.Delete(id).Context(ctx).Do(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return nil
		}
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
