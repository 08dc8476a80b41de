package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gophvault/internal/files"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/tree"
	"github.com/jun/gophvault/internal/workspace"
	"github.com/sirupsen/logrus"
)

// FileHandler serves file content, metadata and thumbnails.
type FileHandler struct {
	registry  *workspace.Registry
	jwtSecret string
	log       *logrus.Entry
}

func NewFileHandler(registry *workspace.Registry, jwtSecret string, log *logrus.Entry) *FileHandler {
	return &FileHandler{
		registry:  registry,
		jwtSecret: jwtSecret,
		log:       logging.OrDiscard(log).WithField("component", "file_handler"),
	}
}

type fileContent struct {
	File    model.FileEntity `json:"file"`
	Content string           `json:"content"`
}

// Create uploads a file. content is base64; thumbnail is an optional data URI.
func (h *FileHandler) Create(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, err := currentWorkspace(req, h.registry, h.jwtSecret)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		FolderID  string `json:"folderId"`
		Content   string `json:"content"`
		Thumbnail string `json:"thumbnail"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}
	data, err := base64.StdEncoding.DecodeString(in.Content)
	if err != nil {
		return errorResponse(h.log, fmt.Errorf("%w: content is not base64", ErrBadRequest)), nil
	}

	log := h.log.WithField("user_id", ws.UserID)
	file, err := ws.Files.Create(ctx, files.CreateInput{
		Name:      in.Name,
		Type:      in.Type,
		FolderID:  in.FolderID,
		Content:   bytes.NewReader(data),
		Size:      int64(len(data)),
		Thumbnail: in.Thumbnail,
	}, progressLogger(log, "upload"))
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusCreated, file), nil
}

// Get returns the file metadata with its decrypted content.
func (h *FileHandler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var buf bytes.Buffer
	file, err := ws.Files.Download(ctx, id, &buf, progressLogger(h.log.WithField("file_id", id), "download"))
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return jsonResponse(http.StatusOK, fileContent{
		File:    file,
		Content: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}), nil
}

func (h *FileHandler) Rename(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		Name string `json:"name"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}

	file, err := ws.Files.Rename(ctx, id, in.Name)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return jsonResponse(http.StatusOK, file), nil
}

func (h *FileHandler) Move(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		TargetID string `json:"targetId"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}

	file, err := ws.Files.Get(ctx, id)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	item := tree.Item{ID: file.ID, FolderID: file.FolderID, Type: model.TypeFile}
	if err := ws.Folders.Move(ctx, []tree.Item{item}, in.TargetID); err != nil {
		return errorResponse(h.log, err), nil
	}
	return noContent(), nil
}

func (h *FileHandler) Delete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	if err := ws.Files.Delete(ctx, id); err != nil {
		return errorResponse(h.log, err), nil
	}
	return noContent(), nil
}

func (h *FileHandler) GetThumbnail(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	thumb, err := ws.Files.GetThumbnail(ctx, id)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]string{"thumbnail": thumb}), nil
}

func (h *FileHandler) SetThumbnail(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		Thumbnail string `json:"thumbnail"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}
	if in.Thumbnail == "" {
		return errorResponse(h.log, fmt.Errorf("%w: thumbnail is required", ErrBadRequest)), nil
	}
	if err := ws.Files.SetThumbnail(ctx, id, in.Thumbnail); err != nil {
		return errorResponse(h.log, err), nil
	}
	return noContent(), nil
}

func (h *FileHandler) target(req events.APIGatewayProxyRequest) (*workspace.Workspace, string, error) {
	ws, err := currentWorkspace(req, h.registry, h.jwtSecret)
	if err != nil {
		return nil, "", err
	}
	id := req.PathParameters["id"]
	if id == "" {
		return nil, "", fmt.Errorf("%w: missing file ID", ErrBadRequest)
	}
	return ws, id, nil
}

// progressLogger logs transfer progress at debug level in quarter steps.
func progressLogger(log *logrus.Entry, direction string) func(float64) {
	next := 0.25
	return func(p float64) {
		if p < next {
			return
		}
		for next <= p {
			next += 0.25
		}
		log.WithFields(logrus.Fields{"direction": direction, "progress": p}).Debug("Transfer progress")
	}
}
