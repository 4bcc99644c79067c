package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

const (
	folderImages      = "chat-images"
	folderAudio       = "chat-audio"
	folderGroupImages = "group-images"
	folderAvatars     = "avatars"
)

// UploadService stores media and hands back its public URL. Group images
// and avatars are applied to their owner right away.
type UploadService struct {
	log            *slog.Logger
	storage        contracts.ObjectStorage
	groups         *GroupService
	users          *UserService
	imageTransform string
	audioTransform string
}

func NewUploadService(
	log *slog.Logger,
	storage contracts.ObjectStorage,
	groups *GroupService,
	users *UserService,
	imageTransform, audioTransform string,
) *UploadService {
	return &UploadService{
		log:            log,
		storage:        storage,
		groups:         groups,
		users:          users,
		imageTransform: imageTransform,
		audioTransform: audioTransform,
	}
}

func checkExtension(filename string, allowed map[string]bool, kind string) error {
	if !allowed[strings.ToLower(filepath.Ext(filename))] {
		return domain.Validation("unsupported " + kind + " file type")
	}
	return nil
}

func (s *UploadService) upload(ctx context.Context, op string, file io.Reader, filename, folder, transform string) (string, error) {
	ctx, span := tracer.Start(ctx, "UploadService.Upload", trace.WithAttributes(
		attribute.String("folder", folder),
	))
	defer span.End()

	url, err := s.storage.Upload(ctx, file, filename, folder, transform)
	if err != nil {
		return "", fail(ctx, s.log, span, op, fmt.Errorf("upload to %s: %w", folder, err), "folder", folder)
	}
	s.log.InfoContext(ctx, op+" - success", "folder", folder, "url", url)
	return url, nil
}

func (s *UploadService) UploadImage(ctx context.Context, file io.Reader, filename string) (string, error) {
	if err := checkExtension(filename, imageExtensions, "image"); err != nil {
		return "", err
	}
	return s.upload(ctx, "upload - image", file, filename, folderImages, s.imageTransform)
}

func (s *UploadService) UploadAudio(ctx context.Context, file io.Reader, filename string) (string, error) {
	if err := checkExtension(filename, audioExtensions, "audio"); err != nil {
		return "", err
	}
	return s.upload(ctx, "upload - audio", file, filename, folderAudio, s.audioTransform)
}

// UploadGroupImage checks the admin right before anything is stored.
func (s *UploadService) UploadGroupImage(ctx context.Context, groupID, actingUserID primitive.ObjectID, file io.Reader, filename string) (string, error) {
	if err := checkExtension(filename, imageExtensions, "image"); err != nil {
		return "", err
	}
	if _, err := s.groups.AuthorizeAdmin(ctx, groupID, actingUserID); err != nil {
		return "", err
	}
	url, err := s.upload(ctx, "upload - group image", file, filename, folderGroupImages, s.imageTransform)
	if err != nil {
		return "", err
	}
	if err := s.groups.UpdateGroupImage(ctx, groupID, actingUserID, url); err != nil {
		return "", err
	}
	return url, nil
}

func (s *UploadService) UploadAvatar(ctx context.Context, userID primitive.ObjectID, file io.Reader, filename string) (string, error) {
	if err := checkExtension(filename, imageExtensions, "image"); err != nil {
		return "", err
	}
	url, err := s.upload(ctx, "upload - avatar", file, filename, folderAvatars, s.imageTransform)
	if err != nil {
		return "", err
	}
	if _, err := s.users.UpdateAvatar(ctx, userID, url); err != nil {
		return "", err
	}
	return url, nil
}
